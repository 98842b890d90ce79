package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img
}

var _ = Describe("isHEIC", func() {
	It("should detect HEIC by MIME type", func() {
		Expect(isHEIC(nil, "image/heic")).To(BeTrue())
		Expect(isHEIC(nil, "image/heif")).To(BeTrue())
	})

	It("should detect HEIC by ftyp brand", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic....")...)
		Expect(isHEIC(data, "application/octet-stream")).To(BeTrue())
	})

	It("should reject other data", func() {
		Expect(isHEIC([]byte("short"), "image/jpeg")).To(BeFalse())
		data := append([]byte{0, 0, 0, 24}, []byte("ftypisom....")...)
		Expect(isHEIC(data, "video/mp4")).To(BeFalse())
	})
})

var _ = Describe("toPNG", func() {
	It("should pass PNG data through unchanged", func() {
		var buf bytes.Buffer
		Expect(png.Encode(&buf, testImage())).To(Succeed())

		out, err := toPNG(buf.Bytes(), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(buf.Bytes()))
	})

	It("should convert JPEG data to PNG", func() {
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, testImage(), nil)).To(Succeed())

		out, err := toPNG(buf.Bytes(), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())

		decoded, err := png.Decode(bytes.NewReader(out))
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.Bounds().Dx()).To(Equal(4))
	})

	It("should reject data that is not an image", func() {
		_, err := toPNG([]byte("plain text"), "text/plain")
		Expect(err).To(MatchError(ErrUnsupportedFormat))
	})

	It("should reject a corrupt PDF", func() {
		_, err := toPNG([]byte("not a pdf"), "application/pdf")
		Expect(err).To(MatchError(ErrUnsupportedFormat))
	})
})
