package main

import (
	"fmt"
	"time"

	"github.com/vctt94/bisonbotkit/config"
)

type WordDuelConfig struct {
	*config.BotConfig // Embed the base BotConfig

	// Chain network: mainnet, testnet or simnet.
	Network string

	// dcrd connectivity
	DcrdHost string
	DcrdCert string
	DcrdUser string
	DcrdPass string

	// House payout address and release key source. Exactly one of
	// HouseKey (hex) or HouseKeyFile must be set.
	HouseAddress string
	HouseKey     string
	HouseKeyFile string

	// SweepInterval overrides the orchestrator sweeper period.
	SweepInterval time.Duration
}

func LoadWordDuelConfig(dataDir, configFile string) (*WordDuelConfig, error) {
	baseConfig, err := config.LoadBotConfig(dataDir, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	cfg := &WordDuelConfig{
		BotConfig:    baseConfig,
		Network:      baseConfig.ExtraConfig["network"],
		DcrdHost:     baseConfig.ExtraConfig["dcrdhost"],
		DcrdCert:     baseConfig.ExtraConfig["dcrdcert"],
		DcrdUser:     baseConfig.ExtraConfig["dcrduser"],
		DcrdPass:     baseConfig.ExtraConfig["dcrdpass"],
		HouseAddress: baseConfig.ExtraConfig["houseaddress"],
		HouseKey:     baseConfig.ExtraConfig["housekey"],
		HouseKeyFile: baseConfig.ExtraConfig["housekeyfile"],
	}
	if cfg.Network == "" {
		cfg.Network = "mainnet"
	}

	if raw := baseConfig.ExtraConfig["sweepinterval"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid sweepinterval: %w", err)
		}
		cfg.SweepInterval = d
	}

	if cfg.DcrdHost == "" || cfg.DcrdUser == "" || cfg.DcrdPass == "" || cfg.DcrdCert == "" {
		return nil, fmt.Errorf("incomplete dcrd config: host=%q user=%q pass_set=%t cert=%q",
			cfg.DcrdHost, cfg.DcrdUser, cfg.DcrdPass != "", cfg.DcrdCert)
	}
	if cfg.HouseAddress == "" {
		return nil, fmt.Errorf("missing houseaddress in %s", configFile)
	}
	if (cfg.HouseKey == "") == (cfg.HouseKeyFile == "") {
		return nil, fmt.Errorf("set exactly one of housekey or housekeyfile in %s", configFile)
	}

	return cfg, nil
}
