package generator

// Config drives the synthetic flagged-record generator. The three shares are
// relative weights of the record shapes produced.
type Config struct {
	NumRecords   int
	NumWallets   int
	SimpleShare  float64
	LayerShare   float64
	ClusterShare float64
	MaxHops      int
	// RawShare is the fraction of records emitted as undecodable on-chain strings.
	RawShare float64
	Seed     int64
}

// DefaultConfig returns settings that exercise every graph shape.
func DefaultConfig() Config {
	return Config{
		NumRecords:   500,
		NumWallets:   200,
		SimpleShare:  0.5,
		LayerShare:   0.3,
		ClusterShare: 0.2,
		MaxHops:      7,
		RawShare:     0.02,
		Seed:         42,
	}
}
