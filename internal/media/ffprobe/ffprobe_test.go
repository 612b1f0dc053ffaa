package ffprobe

import (
	"encoding/json"
	"testing"
)

const sampleOutput = `{
  "streams": [
    {"index": 0, "codec_name": "mjpeg", "codec_type": "video", "disposition": {"attached_pic": 1}},
    {"index": 1, "codec_name": "HEVC", "codec_type": "video", "width": 1920, "height": 1080, "disposition": {"attached_pic": 0}},
    {"index": 2, "codec_name": "aac", "codec_type": "audio"}
  ],
  "format": {"filename": "movie.mkv", "duration": "5400.5", "format_name": "matroska,webm"}
}`

func TestVideoCodecSkipsAttachedPictures(t *testing.T) {
	var result Result
	if err := json.Unmarshal([]byte(sampleOutput), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Streams) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(result.Streams))
	}
	codec, ok := result.VideoCodec()
	if !ok || codec != "hevc" {
		t.Fatalf("VideoCodec = %q, %v; want hevc", codec, ok)
	}
}

func TestVideoCodecAudioOnly(t *testing.T) {
	result := Result{Streams: []Stream{{CodecType: "audio", CodecName: "flac"}}}
	if _, ok := result.VideoCodec(); ok {
		t.Fatal("expected no video codec for audio-only input")
	}
}
