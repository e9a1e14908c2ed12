// Package radio holds the validated configuration of the single radio
// front-end and the constant enumerations shared with application code.
// The numeric values are a wire contract and must not change.
package radio

// Mode selects the LoRa personality of the front-end.
type Mode int

const (
	ModeLoRa    Mode = 0 // raw LoRa modulation
	ModeLoRaWAN Mode = 1
)

// SigfoxMode selects the Sigfox personality of the front-end.
type SigfoxMode int

const (
	SigfoxModeSigfox SigfoxMode = 0
	SigfoxModeFSK    SigfoxMode = 1
)

// Zone is the Sigfox regional configuration zone.
type Zone int

const (
	RCZ1 Zone = 0
	RCZ2 Zone = 1
	RCZ3 Zone = 2
	RCZ4 Zone = 3
)

// Bandwidth enumerates raw-LoRa bandwidths.
type Bandwidth int

const (
	BW125KHz Bandwidth = 0
	BW250KHz Bandwidth = 1
	BW500KHz Bandwidth = 2
)

// CodingRate enumerates raw-LoRa coding rates.
type CodingRate int

const (
	Coding4_5 CodingRate = 0
	Coding4_6 CodingRate = 1
	Coding4_7 CodingRate = 2
	Coding4_8 CodingRate = 3
)

// PowerMode controls the power state of the front-end.
type PowerMode int

const (
	AlwaysOn PowerMode = 0
	TXOnly   PowerMode = 1
	Sleep    PowerMode = 2
)

// Activation is the LoRaWAN network activation kind.
type Activation int

const (
	OTAA Activation = 0
	ABP  Activation = 1
)

// DeviceClass is the LoRaWAN device class.
type DeviceClass int

const (
	ClassA DeviceClass = 0
	ClassC DeviceClass = 2
)

// Spreading factor limits for raw LoRa.
const (
	MinSpreadingFactor = 7
	MaxSpreadingFactor = 12
)
