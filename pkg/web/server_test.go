package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/jpeg"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-steno/pkg/geometry"
	"github.com/teslashibe/go-steno/pkg/stream"
	"github.com/teslashibe/go-steno/pkg/video"
	"github.com/teslashibe/go-steno/pkg/virtualcam"
)

type fakeStatus struct{}

func (fakeStatus) Stats() stream.Stats {
	return stream.Stats{ID: "run-1", State: "started"}
}

func (fakeStatus) Cameras() []virtualcam.Camera {
	return []virtualcam.Camera{{ID: "cam-1", Speaking: true, Current: geometry.AngleRect{Azimuth: 1}}}
}

type fakeOffers struct {
	err   error
	peers int
}

func (f *fakeOffers) HandleOffer(_ context.Context, offer webrtc.SessionDescription) (string, webrtc.SessionDescription, error) {
	if f.err != nil {
		return "", webrtc.SessionDescription{}, f.err
	}
	f.peers++
	return "peer-1", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer to " + offer.SDP}, nil
}

func (f *fakeOffers) Peers() int { return f.peers }

func TestServer_StatusEndpoint(t *testing.T) {
	s := NewServer(Config{}, fakeStatus{}, &fakeOffers{peers: 2}, nil)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/status", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Stream.ID != "run-1" || len(st.Cameras) != 1 || !st.Cameras[0].Speaking || st.WebRTCPeers != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestServer_Routes(t *testing.T) {
	s := NewServer(Config{}, nil, nil, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/", 200},
		{"/api/cameras", 200},
		{"/api/status", 200},
		{"/ws/display", 426},
		{"/ws/status", 426},
		{"/ws/webrtc", 426},
		{"/nope", 404},
	}
	for _, tt := range tests {
		resp, err := s.App().Test(httptest.NewRequest("GET", tt.path, nil))
		if err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if resp.StatusCode != tt.want {
			body, _ := io.ReadAll(resp.Body)
			t.Errorf("GET %s = %d, want %d (%s)", tt.path, resp.StatusCode, tt.want, body)
		}
	}
}

func TestServer_EncodePreview(t *testing.T) {
	s := NewServer(Config{JPEGQuality: 90}, nil, nil, nil)

	if _, ok, _ := s.encodeLatest(); ok {
		t.Fatal("nothing staged yet")
	}

	display := video.NewImage(video.Dim3{Width: 80, Height: 60, Channels: 3})
	display.HostData = make([]byte, display.Size())
	display.Fill([]byte{0, 0, 255}) // red in BGR
	if err := s.stage(&display); err != nil {
		t.Fatal(err)
	}

	data, ok, err := s.encodeLatest()
	if err != nil || !ok {
		t.Fatalf("encodeLatest() = %v, %v", ok, err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("preview is not a jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 80 || b.Dy() != 60 {
		t.Errorf("preview bounds = %v", b)
	}
	r, g, bl, _ := img.At(40, 30).RGBA()
	if r>>8 < 200 || g>>8 > 60 || bl>>8 > 60 {
		t.Errorf("center pixel = %d,%d,%d, want red", r>>8, g>>8, bl>>8)
	}
	if s.Status().Encoded != 1 {
		t.Errorf("Encoded = %d, want 1", s.Status().Encoded)
	}

	if _, ok, _ := s.encodeLatest(); ok {
		t.Error("the same display should not be encoded twice")
	}
}

func TestServer_ConsumeWithoutViewers(t *testing.T) {
	s := NewServer(Config{}, nil, nil, nil)
	display := video.NewImage(video.Dim3{Width: 8, Height: 8, Channels: 3})
	display.HostData = make([]byte, display.Size())

	if err := s.Consume(&display); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.encodeLatest(); ok {
		t.Error("displays should not be staged without preview clients")
	}
}

func TestServer_Answer(t *testing.T) {
	offers := &fakeOffers{}
	tests := []struct {
		name     string
		offers   OfferHandler
		req      signal
		wantType string
	}{
		{"disabled", nil, signal{Type: "offer", SDP: "v=0"}, "error"},
		{"not an offer", offers, signal{Type: "answer", SDP: "v=0"}, "error"},
		{"empty sdp", offers, signal{Type: "offer"}, "error"},
		{"failure", &fakeOffers{err: errors.New("ice failed")}, signal{Type: "offer", SDP: "v=0"}, "error"},
		{"answered", offers, signal{Type: "offer", SDP: "v=0"}, "answer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Config{}, nil, tt.offers, nil)
			resp := s.answer(t.Context(), tt.req)
			if resp.Type != tt.wantType {
				t.Fatalf("answer() = %+v, want type %s", resp, tt.wantType)
			}
			if resp.Type == "answer" && (resp.Peer != "peer-1" || resp.SDP != "answer to v=0") {
				t.Errorf("answer() = %+v", resp)
			}
		})
	}
}
