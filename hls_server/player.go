package hls_server

import (
	"html/template"
	"io"

	"github.com/sirupsen/logrus"
)

const playerTemplate = `<!DOCTYPE html>
<html>
<head><title>{{.StreamKey}}</title></head>
<body style="margin:0;background:#000">
<video id="video" controls autoplay muted style="width:100%;height:100vh"></video>
<script src="https://cdn.jsdelivr.net/npm/hls.js@latest"></script>
<script>
  var src = window.location.protocol + '//' + window.location.hostname + ':{{.Port}}/{{.Application}}/{{.StreamKey}}/index.m3u8';
  var video = document.getElementById('video');
  if (Hls.isSupported()) {
    var hls = new Hls();
    hls.loadSource(src);
    hls.attachMedia(video);
  } else if (video.canPlayType('application/vnd.apple.mpegurl')) {
    video.src = src;
  }
</script>
</body>
</html>
`

type PlayerPage struct {
	StreamKey   string
	Application string
	Port        int
}

func NewPlayerPage() *PlayerPage {
	return &PlayerPage{}
}

func (p *PlayerPage) ComposePlayerPage(writer io.Writer) {
	t, err := template.New("HLSPlayer").Parse(playerTemplate)
	if err != nil {
		logrus.Errorf("cannot parse player template %+v", err)
		return
	}
	if err := t.Execute(writer, p); err != nil {
		logrus.Errorf("cannot render player page %+v", err)
	}
}
