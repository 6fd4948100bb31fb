package configs

import (
	"flag"
	"os"

	"github.com/hilthontt/courier/internal/infrastructure/env"
)

const configFlag = "config"

var searchPaths = []string{
	"./config.yaml",
	"./config.yml",
	"/etc/courier/config.yaml",
	"/app/config.yaml",
}

// DetermineConfigPath picks --config, then COURIER_CONFIG, then the first
// existing well-known location. "" means defaults and env only.
func DetermineConfigPath() string {
	if flag.Lookup(configFlag) == nil {
		flag.String(configFlag, "", "path to config file")
	}
	if !flag.Parsed() {
		flag.Parse()
	}

	return resolveConfigPath(
		flag.Lookup(configFlag).Value.String(),
		env.GetString("COURIER_CONFIG", ""),
		searchPaths,
		fileExists,
	)
}

func resolveConfigPath(fromFlag, fromEnv string, candidates []string, exists func(string) bool) string {
	if fromFlag != "" {
		return fromFlag
	}
	if fromEnv != "" {
		return fromEnv
	}
	for _, p := range candidates {
		if exists(p) {
			return p
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
