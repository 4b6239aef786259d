package watcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"strzcam.com/uc3dview/control"
	"strzcam.com/uc3dview/frame"
	"strzcam.com/uc3dview/registry"
)

// Server is the preview surface over the polling loop: MJPEG stream of the
// latest decoded frames, camera listing and switching, and a WebSocket that
// feeds user settings into the control channel. It only ever sees decoded
// frames the poll loop broadcast; borrowed views never cross into here.
type Server struct {
	addr    string
	coord   *Coordinator
	reg     *registry.Reader
	ctrl    *control.Writer
	Frames  chan *frame.Frame
	Switch  chan uint32
	ctrlMux sync.Mutex
	mux     *http.ServeMux
}

func NewServer(addr string, coord *Coordinator, reg *registry.Reader, ctrl *control.Writer) *Server {
	s := &Server{
		addr:   addr,
		coord:  coord,
		reg:    reg,
		ctrl:   ctrl,
		Frames: make(chan *frame.Frame, 1),
		Switch: make(chan uint32, 1),
		mux:    http.NewServeMux(),
	}
	s.prepareEndpoints()
	return s
}

// BroadcastFrame hands the latest decoded frame to the stream, dropping the
// previous one if nobody consumed it yet. Latest wins, same as the wire.
func (s *Server) BroadcastFrame(f *frame.Frame) {
	for {
		select {
		case s.Frames <- f:
			return
		default:
			select {
			case <-s.Frames:
			default:
			}
		}
	}
}

func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func (s *Server) getCameras(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.reg.ListCameras())
}

func (s *Server) switchCamera(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	index, err := strconv.ParseUint(r.URL.Query().Get("index"), 10, 32)
	if err != nil {
		http.Error(w, "bad index", http.StatusBadRequest)
		return
	}
	// The poll loop owns the coordinator; hand the request over instead of
	// switching from this goroutine.
	select {
	case s.Switch <- uint32(index):
	default:
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")

	mw := multipart.NewWriter(w)
	mw.SetBoundary("frame")

	for f := range s.Frames {
		if err := writeJPEGFrame(mw, f.Image); err != nil {
			log.Printf("Error writing JPEG frame: %v", err)
			return
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}
}

func writeJPEGFrame(mw *multipart.Writer, img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return err
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", fmt.Sprintf("%d", buf.Len()))

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(buf.Bytes()); err != nil {
		return err
	}
	return nil
}

// controlMessage is what the browser pushes over the WebSocket. Absent
// fields leave the current value alone.
type controlMessage struct {
	Pause      *bool       `json:"pause,omitempty"`
	TimeScale  *float32    `json:"timeScale,omitempty"`
	Pos        *[3]float32 `json:"pos,omitempty"`
	Look       *[3]float32 `json:"look,omitempty"`
	Up         *[3]float32 `json:"up,omitempty"`
	DebugFlags *uint32     `json:"debugFlags,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

func (s *Server) serveControl(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("control upgrade: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("control client connected: %s", r.RemoteAddr)

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("control client gone: %v", err)
			return
		}
		if err := s.applyControl(msg); err != nil {
			log.Printf("control write: %v", err)
		}
	}
}

func (s *Server) applyControl(msg controlMessage) error {
	s.ctrlMux.Lock()
	defer s.ctrlMux.Unlock()
	if msg.Pause != nil {
		s.ctrl.Pause = *msg.Pause
	}
	if msg.TimeScale != nil {
		s.ctrl.TimeScale = *msg.TimeScale
	}
	if msg.Pos != nil {
		s.ctrl.Pos = *msg.Pos
	}
	if msg.Look != nil {
		s.ctrl.Look = *msg.Look
	}
	if msg.Up != nil {
		s.ctrl.Up = *msg.Up
	}
	if msg.DebugFlags != nil {
		s.ctrl.DebugFlags = *msg.DebugFlags
	}
	return s.ctrl.Write()
}

func (s *Server) prepareEndpoints() {
	s.mux.HandleFunc("/cameras", s.getCameras)
	s.mux.HandleFunc("/camera", s.switchCamera)
	s.mux.HandleFunc("/stream", s.serveStream)
	s.mux.HandleFunc("/control", s.serveControl)

	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		html := `
<!DOCTYPE html>
<html>
<head>
    <title>UC3D Viewer</title>
</head>
<body>
    <h1>UC3D Camera Stream</h1>
	<a href="/stream">Stream</a>
	<a href="/cameras">Cameras</a>
</body>
</html>`
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	})
}

func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, s.mux)
}
