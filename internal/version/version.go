// ABOUTME: Version information for avcodec-go
// ABOUTME: Reported to codec servers in the client hello
package version

const (
	// Version is the software version
	Version = "0.1.0"

	// Product is the product name
	Product = "avcodec-go"

	// Manufacturer identifies who builds it
	Manufacturer = "Resonate Protocol"
)
