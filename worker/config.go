package worker

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/VKCOM/joy4/format/rtmp"
	"github.com/sirupsen/logrus"

	"github.com/d3f4ultt/d3f4ult.tv/hls_server"
	"github.com/d3f4ultt/d3f4ult.tv/hlsfs"
	"github.com/d3f4ultt/d3f4ult.tv/rtmp_server"
	"github.com/d3f4ultt/d3f4ult.tv/transcode"
)

const (
	DEFAULT_CONFIG = "default"
	TESTING_CONFIG = "testing"
	DEV_CONFIG     = "development"
)

type Config struct {
	LogLevel  string
	RtmpDebug bool

	// Disabled shuts the RTMP side off entirely: no listener is bound and the
	// status API reports enabled=false. Forced by the environment, see
	// detectDisabled.
	Disabled bool

	HlsFsConfig      hlsfs.Config
	LiveHlsConfig    hls_server.LiveHlsConfig
	RtmpServerConfig rtmp_server.RtmpServerConfig
	TranscodeConfig  transcode.Config
}

func NewConfig(configPath string) Config {
	logrus.Infof("Starting with config path %+s", configPath)
	config := Config{
		LogLevel:         "debug",
		HlsFsConfig:      hlsfs.NewConfig(),
		LiveHlsConfig:    hls_server.NewLiveHlsConfig(),
		RtmpServerConfig: rtmp_server.NewRtmpServerConfig(),
		TranscodeConfig:  transcode.NewConfig(),
	}

	switch configPath {
	case DEFAULT_CONFIG:
	case TESTING_CONFIG:
		config.LiveHlsConfig.HttpPort = 8085
		config.HlsFsConfig.Basedir = "/tmp/d3f4ult_media_test/"
	case DEV_CONFIG:
		config.LiveHlsConfig.HttpPort = 8085
		config.RtmpServerConfig.RtmpPort = 1935
		config.HlsFsConfig.Basedir = "/tmp/d3f4ult_media_dev/"
	default:
		if meta, err := toml.DecodeFile(configPath, &config); err != nil || len(meta.Undecoded()) != 0 {
			if err == nil {
				logrus.Panicf("Cannot apply config keys %v", meta.Undecoded())
			}
			logrus.Panicf("Cannot init config %+v", err)
		}
		config.RtmpServerConfig.Prepare()
	}

	if disabled, reason := detectDisabled(); disabled {
		config.Disabled = true
		logrus.Warnf("RTMP subsystem disabled: %s", reason)
	}

	if config.RtmpDebug {
		rtmp.Debug = true
	}

	switch config.LogLevel {
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.Panicf("Bad log level: %s:", config.LogLevel)
	}
	logrus.Infof("Final config: %+v ", config)

	return config
}

// detectDisabled reports whether the runtime environment cannot host the RTMP
// listener. Sandboxed deployments do not allow binding the RTMP port.
func detectDisabled() (bool, string) {
	if os.Getenv("DISABLE_RTMP") == "true" {
		return true, "DISABLE_RTMP is set"
	}
	if os.Getenv("REPL_ID") != "" || os.Getenv("REPLIT_DEPLOYMENT") != "" {
		return true, "sandboxed environment cannot bind the rtmp port"
	}
	return false, ""
}
