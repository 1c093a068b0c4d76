package lending

// Config is the TOML-facing runtime configuration for the lending module: the
// protocol parameters plus a reserve configuration per listed asset. Loaded
// by the config package and validated before an engine is built from it.
type Config struct {
	SlotsPerYear   uint64                   `toml:"SlotsPerYear"`
	MaxSlotAdvance uint64                   `toml:"MaxSlotAdvance"`
	Reserves       map[string]ReserveConfig `toml:"reserves"`
}

// EnsureDefaults populates unset fields so a minimal file stays loadable.
func (c *Config) EnsureDefaults() {
	if c.SlotsPerYear == 0 {
		c.SlotsPerYear = DefaultSlotsPerYear
	}
	if c.MaxSlotAdvance == 0 {
		c.MaxSlotAdvance = DefaultMaxSlotAdvance
	}
	if c.Reserves == nil {
		c.Reserves = make(map[string]ReserveConfig)
	}
}

// Validate checks every reserve configuration in the file.
func (c *Config) Validate() error {
	for _, reserveCfg := range c.Reserves {
		if err := reserveCfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Params derives the protocol parameters carried into every refresh.
func (c *Config) Params() Params {
	return Params{SlotsPerYear: c.SlotsPerYear, MaxSlotAdvance: c.MaxSlotAdvance}.Normalise()
}
