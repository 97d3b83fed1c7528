package rtmp_server

import (
	"regexp"
)

type RtmpServerConfig struct {
	RtmpHost      string
	RtmpPort      int
	PublishPrefix string
	publishRegexp *regexp.Regexp
}

func (rs *RtmpServerConfig) Prepare() {
	rs.publishRegexp = regexp.MustCompile(rs.PublishPrefix)
}

func NewRtmpServerConfig() RtmpServerConfig {
	res := RtmpServerConfig{
		RtmpHost: "",
		RtmpPort: 1935,

		// the trailing path segment is the stream key; a query string on the
		// app segment is ignored
		PublishPrefix: "/(?P<app>[^/?]*)[^/]*/(?P<stream_key>[^?/]*)",
	}
	res.Prepare()

	return res
}
