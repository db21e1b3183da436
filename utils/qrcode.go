package utils

import (
	"fmt"
	"os"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultQRCodeSize = 256

// KRAVerificationURL builds the public invoice checker link encoded in
// every receipt QR code.
func KRAVerificationURL(taxPayerPIN, branchCode, controlUnitInvoice string) string {
	base := os.Getenv("KRA_QR_BASE_URL")
	if base == "" {
		base = "https://itax.kra.go.ke/KRA-Portal/invoiceChk.htm?actionCode=loadPage&invoiceNo"
	}
	return fmt.Sprintf("%s=%s%s%s", base, taxPayerPIN, branchCode, controlUnitInvoice)
}

// GenerateQRCodePNG renders the verification link as a PNG.
func GenerateQRCodePNG(content string) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, defaultQRCodeSize)
}
