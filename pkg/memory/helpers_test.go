package memory

import "github.com/praxisworks/praxis/pkg/config"

func testVectorConfig() config.VectorConfig {
	cfg := config.VectorConfig{Backend: "chromem", Dim: 3}
	cfg.SetDefaults()
	cfg.Dim = 3
	return cfg
}
