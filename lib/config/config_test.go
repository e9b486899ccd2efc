// config_test.go tests config files
package config

import (
	"errors"
	"testing"
	"time"
)

// fileToTest is a relative path to the configuration file to test (ie. chatrelay/cmd/conf.json)
var fileToTest string = "../../cmd/conf.json"

const phrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Fatalf("Error reading config file:%e\n", err)
	}
	if conf.Port != "5000" {
		t.Errorf("config port is not the expected %s", conf.Port)
	}
	if conf.Chain.Prefix != "xion" || conf.Chain.ChainID != "xion-testnet-2" || conf.Chain.GasAdjustment != 1.5 {
		t.Errorf("chain does not match the expected %+v", conf.Chain)
	}
	if conf.Poll.Interval != 3*time.Second || conf.Poll.Timeout != 30*time.Second {
		t.Errorf("poll does not match the expected %+v", conf.Poll)
	}
	if conf.Faucet.Amount != "200000uxion" || conf.Faucet.Memo != "Initial funding" {
		t.Errorf("faucet does not match the expected %+v", conf.Faucet)
	}
	// not in the file, so the default
	if conf.Analytics.Endpoint != AnalyticsEPDefault {
		t.Errorf("analytics endpoint should default, got %s", conf.Analytics.Endpoint)
	}
}

func TestDefaults(t *testing.T) {
	conf, err := ExtractConfiguration("")
	if err != nil {
		t.Fatalf("unexpected error:%e", err)
	}
	if conf.DbType != DBTypeDefault || conf.Chain.Contract != ContractDefault || conf.Poll.Timeout != PollTimeoutDefault {
		t.Errorf("defaults not loaded: %+v", conf)
	}
	if err = conf.Validate(); !errors.Is(err, ErrFaucetMnemonic) {
		t.Errorf("expected ErrFaucetMnemonic, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHR_PORT", "8080")
	t.Setenv("CHR_CHAIN_NODE", "http://localhost:1317")
	t.Setenv("CHR_POLL_INTERVAL", "250ms")
	t.Setenv("FAUCET_MNEMONIC", phrase)
	t.Setenv("MONGODB_URI", "mongodb://db:27017/relay")

	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Fatalf("unexpected error:%e", err)
	}
	if conf.Port != "8080" {
		t.Errorf("port not overriden: %s", conf.Port)
	}
	if conf.Chain.Node != "http://localhost:1317" {
		t.Errorf("node not overriden: %s", conf.Chain.Node)
	}
	if conf.Poll.Interval != 250*time.Millisecond {
		t.Errorf("interval not overriden: %v", conf.Poll.Interval)
	}
	if conf.DbConn != "mongodb://db:27017/relay" {
		t.Errorf("dbconn not overriden: %s", conf.DbConn)
	}
	if err = conf.Validate(); err != nil {
		t.Errorf("valid mnemonic rejected:%e", err)
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := ExtractConfiguration("does-not-exist.json"); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}
