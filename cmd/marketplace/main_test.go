package main

import (
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/config"
)

func mapLookup(values map[string]string) envLookup {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestResolveConfigPath(t *testing.T) {
	cases := []struct {
		name string
		flag string
		env  map[string]string
		want string
	}{
		{name: "nothing", want: ""},
		{name: "env", env: map[string]string{envConfigPath: "/etc/marketplace.yaml"}, want: "/etc/marketplace.yaml"},
		{name: "flag wins", flag: "./local.yaml", env: map[string]string{envConfigPath: "/etc/marketplace.yaml"}, want: "./local.yaml"},
	}
	for _, tc := range cases {
		if got := resolveConfigPath(tc.flag, mapLookup(tc.env)); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	defer log.SetLevel(log.GetLevel())

	cfg := config.Default()
	cfg.Log.Level = "debug"
	setupLogger(cfg)

	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
}
