// Package server serves a browser preview of the capture over WHEP.
package server

import (
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strings"
    "sync"

    "github.com/google/uuid"
    "github.com/pion/logging"
    "github.com/pion/webrtc/v3"

    "camview/internal/stream"
    "camview/internal/version"
)

// Config for the preview endpoints.
type Config struct {
    FPS int // encoder frame rate
}

// Status is what /health reports about the capture; *stream.Loop satisfies it.
type Status interface {
    State() stream.State
    Counters() *stream.Counters
}

// Stopper is a running encoder pipeline.
type Stopper interface{ Stop() }

// StartFunc starts an encoder pipeline. StartH264 is the default.
type StartFunc func(stream.PipelineConfig) (Stopper, error)

// StartH264 wraps stream.StartH264Pipeline.
func StartH264(cfg stream.PipelineConfig) (Stopper, error) {
    p, err := stream.StartH264Pipeline(cfg)
    if err != nil { return nil, err }
    return p, nil
}

// ErrNoFrame means the preview has not seen a frame yet.
var ErrNoFrame = errors.New("no frame captured yet")

type WhepServer struct {
    cfg     Config
    preview *stream.PreviewSink
    status  Status
    factory logging.LoggerFactory
    log     logging.LeveledLogger
    start   StartFunc

    mu       sync.Mutex
    sessions map[string]*session
    bcast    *stream.SampleBroadcaster
    pipe     Stopper
}

type session struct {
    pc     *webrtc.PeerConnection
    remove func()
}

// NewWhepServer serves frames from preview. status may be nil.
func NewWhepServer(cfg Config, preview *stream.PreviewSink, status Status, factory logging.LoggerFactory) *WhepServer {
    if cfg.FPS <= 0 { cfg.FPS = 30 }
    if factory == nil { factory = logging.NewDefaultLoggerFactory() }
    return &WhepServer{
        cfg:      cfg,
        preview:  preview,
        status:   status,
        factory:  factory,
        log:      factory.NewLogger("preview"),
        start:    StartH264,
        sessions: map[string]*session{},
        bcast:    stream.NewSampleBroadcaster(),
    }
}

// SetStartFunc replaces the pipeline starter.
func (s *WhepServer) SetStartFunc(fn StartFunc) { s.start = fn }

func (s *WhepServer) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("/whep", s.handleWHEPPost)
    mux.HandleFunc("/whep/", s.handleWHEPResource)
    mux.HandleFunc("/health", s.handleHealth)
    mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path != "/" { http.NotFound(w, r); return }
        w.Header().Set("Content-Type", "text/html; charset=utf-8")
        io.WriteString(w, indexHTML)
    })
}

func (s *WhepServer) handleHealth(w http.ResponseWriter, r *http.Request) {
    allowCORS(w, r)
    s.mu.Lock()
    n := len(s.sessions)
    running := s.pipe != nil
    s.mu.Unlock()
    body := map[string]any{
        "status":   "ok",
        "version":  version.String(),
        "sessions": n,
        "preview":  map[string]any{"encoding": running, "dropped": s.bcast.Dropped()},
    }
    if s.status != nil {
        body["state"] = s.status.State().String()
        body["counters"] = s.status.Counters().Snapshot()
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(body)
}

func (s *WhepServer) handleWHEPPost(w http.ResponseWriter, r *http.Request) {
    if r.Method == http.MethodOptions {
        allowCORS(w, r)
        w.WriteHeader(http.StatusNoContent)
        return
    }
    if r.Method != http.MethodPost {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    offerSDP, err := io.ReadAll(r.Body)
    if err != nil || len(offerSDP) == 0 {
        http.Error(w, "empty offer", http.StatusBadRequest)
        return
    }

    api, err := s.newAPI()
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    pc, err := api.NewPeerConnection(webrtc.Configuration{})
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    id := uuid.New().String()

    videoTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
        MimeType:    webrtc.MimeTypeH264,
        ClockRate:   90000,
        SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
    }, "video", "camview")
    if err != nil {
        _ = pc.Close()
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    sender, err := pc.AddTrack(videoTrack)
    if err != nil {
        _ = pc.Close()
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    go drainRTCP(sender)

    if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(offerSDP)}); err != nil {
        _ = pc.Close()
        http.Error(w, err.Error(), http.StatusBadRequest)
        return
    }
    answer, err := pc.CreateAnswer(nil)
    if err != nil {
        _ = pc.Close()
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    gatherComplete := webrtc.GatheringCompletePromise(pc)
    if err := pc.SetLocalDescription(answer); err != nil {
        _ = pc.Close()
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    <-gatherComplete

    // attach to the shared encoder only once negotiation succeeded
    if err := s.addSession(id, pc, videoTrack); err != nil {
        _ = pc.Close()
        status := http.StatusInternalServerError
        if errors.Is(err, ErrNoFrame) { status = http.StatusServiceUnavailable }
        http.Error(w, err.Error(), status)
        return
    }

    pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
        s.log.Debugf("session %s state: %s", id, state)
        if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateDisconnected {
            s.closeSession(id)
        }
    })

    allowCORS(w, r)
    w.Header().Set("Content-Type", "application/sdp")
    w.Header().Set("Location", fmt.Sprintf("/whep/%s", id))
    w.WriteHeader(http.StatusCreated)
    _, _ = io.WriteString(w, pc.LocalDescription().SDP)
}

func (s *WhepServer) newAPI() (*webrtc.API, error) {
    me := &webrtc.MediaEngine{}
    if err := me.RegisterDefaultCodecs(); err != nil { return nil, err }
    se := webrtc.SettingEngine{LoggerFactory: s.factory}
    return webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)), nil
}

// addSession registers the track with the broadcaster, starting the encoder
// for the first viewer.
func (s *WhepServer) addSession(id string, pc *webrtc.PeerConnection, track stream.SampleWriter) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.pipe == nil {
        if s.preview == nil { return ErrNoFrame }
        width, height, order, ok := s.preview.Last()
        if !ok { return ErrNoFrame }
        pipe, err := s.start(stream.PipelineConfig{
            Width:    width,
            Height:   height,
            FPS:      s.cfg.FPS,
            Order:    order,
            Source:   s.preview,
            Writer:   s.bcast,
            Counters: s.counters(),
            Log:      s.log,
        })
        if err != nil { return fmt.Errorf("pipeline error: %w", err) }
        s.pipe = pipe
    }
    s.sessions[id] = &session{pc: pc, remove: s.bcast.Add(track)}
    s.log.Infof("session %s: created (%d viewers)", id, len(s.sessions))
    return nil
}

func (s *WhepServer) counters() *stream.Counters {
    if s.status == nil { return nil }
    return s.status.Counters()
}

func (s *WhepServer) handleWHEPResource(w http.ResponseWriter, r *http.Request) {
    allowCORS(w, r)
    id := strings.TrimPrefix(r.URL.Path, "/whep/")
    switch r.Method {
    case http.MethodPatch:
        w.WriteHeader(http.StatusNoContent)
    case http.MethodDelete:
        s.closeSession(id)
        w.WriteHeader(http.StatusNoContent)
    case http.MethodOptions:
        w.WriteHeader(http.StatusNoContent)
    default:
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
    }
}

// closeSession drops one viewer and stops the encoder after the last one.
func (s *WhepServer) closeSession(id string) {
    s.mu.Lock()
    sess := s.sessions[id]
    delete(s.sessions, id)
    var pipe Stopper
    if sess != nil && len(s.sessions) == 0 {
        pipe, s.pipe = s.pipe, nil
    }
    s.mu.Unlock()
    if sess == nil { return }
    sess.remove()
    _ = sess.pc.Close()
    if pipe != nil { pipe.Stop() }
    s.log.Infof("session %s: closed", id)
}

// Sessions is the number of connected viewers.
func (s *WhepServer) Sessions() int {
    s.mu.Lock()
    defer s.mu.Unlock()
    return len(s.sessions)
}

// Close ends all sessions and the encoder.
func (s *WhepServer) Close() {
    s.mu.Lock()
    ids := make([]string, 0, len(s.sessions))
    for id := range s.sessions { ids = append(ids, id) }
    s.mu.Unlock()
    for _, id := range ids { s.closeSession(id) }
    s.mu.Lock()
    pipe := s.pipe
    s.pipe = nil
    s.mu.Unlock()
    if pipe != nil { pipe.Stop() }
    s.bcast.Close()
}

// drainRTCP reads incoming RTCP so interceptors (NACK, reports) keep working.
func drainRTCP(sender *webrtc.RTPSender) {
    buf := make([]byte, 1500)
    for {
        if _, _, err := sender.Read(buf); err != nil { return }
    }
}

func allowCORS(w http.ResponseWriter, r *http.Request) {
    origin := r.Header.Get("Origin")
    if origin == "" { origin = "*" }
    w.Header().Set("Access-Control-Allow-Origin", origin)
    w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
    w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
    w.Header().Set("Access-Control-Expose-Headers", "Location")
}

const indexHTML = `<!doctype html>
<meta charset="utf-8" />
<title>camview preview</title>
<style>body{font-family:system-ui;margin:2rem}video{width:80vw;max-width:1280px;background:#000}pre{color:#555}</style>
<div>
  <button id="play">Play</button>
  <button id="stop" disabled>Stop</button>
  <span id="msg"></span>
</div>
<video id="v" playsinline autoplay muted></video>
<pre id="health"></pre>
<script>
let pc=null, res=null; const $=id=>document.getElementById(id);
$("play").onclick = async ()=>{
  pc=new RTCPeerConnection();
  pc.addTransceiver('video',{direction:'recvonly'});
  pc.ontrack = ev=>{$("v").srcObject=ev.streams[0];}
  const offer = await pc.createOffer();
  await pc.setLocalDescription(offer);
  const resp=await fetch('/whep',{method:'POST',headers:{'Content-Type':'application/sdp'},body:offer.sdp});
  if(!resp.ok){$("msg").textContent=await resp.text(); pc.close(); return}
  res=resp.headers.get('Location'); const sdp=await resp.text();
  await pc.setRemoteDescription({type:'answer', sdp});
  $("stop").disabled=false; $("msg").textContent='';
}
$("stop").onclick = async ()=>{
  if(res){await fetch(res,{method:'DELETE'})} if(pc){pc.close()} $("stop").disabled=true;
}
setInterval(async ()=>{ const r=await fetch('/health'); $("health").textContent=JSON.stringify(await r.json(),null,2) }, 1000);
</script>`
