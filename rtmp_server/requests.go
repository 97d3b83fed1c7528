package rtmp_server

import (
	"github.com/VKCOM/joy4/av"
)

type PublishRequest struct {
	Application string `mapstructure:"app"`
	StreamKey   string `mapstructure:"stream_key"`
	Params      map[string]string
	Data        av.DemuxCloser
}
