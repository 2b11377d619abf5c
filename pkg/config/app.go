package config

import "time"

var AppVersion = "DEVELOPMENT"

const (
	AppName           = "acepanel"
	LogFile           = "core.log"
	CfgFile           = "config.toml"
	TextConfigFile    = "text_config.json"
	APIRequestTimeout = 30 * time.Second
)
