package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"nhooyr.io/websocket"
)

const (
	eventPrefix = "42"
	enginePing  = "2"
	enginePong  = "3"

	manualMessage = `42["manual",{}]`
	resetMessage  = `42["reset",{}]`
)

// simulatorService bridges the driving simulator's websocket to the drive loop.
type simulatorService struct {
	ctx    context.Context
	drive  *driveService
	server *http.Server
}

func newSimulatorService(ctx context.Context, drive *driveService, addr string) *simulatorService {
	ss := &simulatorService{ctx: ctx, drive: drive}
	ss.server = &http.Server{
		Addr:              addr,
		Handler:           ss,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return ss
}

// run serves until the context is cancelled.
func (ss *simulatorService) run() error {
	go func() {
		<-ss.ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ss.server.Shutdown(shutdownCtx)
	}()

	log.Printf("SIM: listening on %s", ss.server.Addr)
	err := ss.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (ss *simulatorService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("SIM: websocket accept failed: %v", err)
		return
	}
	log.Printf("SIM: connected %s", r.RemoteAddr)
	defer log.Printf("SIM: disconnected %s", r.RemoteAddr)

	err = ss.serve(r.Context(), conn)
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	log.Printf("SIM: connection error: %v", err)
	conn.Close(websocket.StatusInternalError, "")
}

func (ss *simulatorService) serve(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		replies, err := ss.reply(data)
		if err != nil {
			log.Printf("SIM: dropping message: %v", err)
			continue
		}
		for _, msg := range replies {
			if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				return err
			}
		}
	}
}

// reply computes the messages answering one inbound frame.
func (ss *simulatorService) reply(data []byte) ([]string, error) {
	if string(data) == enginePing {
		return []string{enginePong}, nil
	}

	event, payload, ok := parseMessage(data)
	if !ok {
		return nil, nil
	}
	if payload == nil {
		return []string{manualMessage}, nil
	}
	if event != "telemetry" {
		return nil, nil
	}

	t, err := parseTelemetry(payload)
	if err != nil {
		return nil, err
	}
	cmd := ss.drive.handle(t)

	var out []string
	if cmd.reset {
		out = append(out, resetMessage)
	}
	steer, err := formatSteer(cmd)
	if err != nil {
		return nil, err
	}
	return append(out, steer), nil
}

// parseMessage splits a socket.io event frame. ok is false for frames that
// are not events; a nil payload means the simulator is in manual mode.
func parseMessage(data []byte) (event string, payload json.RawMessage, ok bool) {
	if len(data) <= len(eventPrefix) || !bytes.HasPrefix(data, []byte(eventPrefix)) {
		return "", nil, false
	}
	if bytes.Contains(data, []byte("null")) {
		return "", nil, true
	}
	b1 := bytes.IndexByte(data, '[')
	b2 := bytes.LastIndexByte(data, ']')
	if b1 < 0 || b2 < b1 {
		return "", nil, true
	}

	var msg []json.RawMessage
	if err := json.Unmarshal(data[b1:b2+1], &msg); err != nil || len(msg) == 0 {
		return "", nil, true
	}
	if err := json.Unmarshal(msg[0], &event); err != nil {
		return "", nil, true
	}
	if len(msg) < 2 {
		return event, nil, true
	}
	return event, msg[1], true
}

var errNonFinite = errors.New("non-finite value")

type telemetryPayload struct {
	CTE           string `json:"cte"`
	Speed         string `json:"speed"`
	SteeringAngle string `json:"steering_angle"`
}

func parseTelemetry(payload json.RawMessage) (telemetry, error) {
	var p telemetryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return telemetry{}, errors.Wrap(err, "unmarshalling telemetry")
	}
	cte, err := strconv.ParseFloat(p.CTE, 64)
	if err != nil {
		return telemetry{}, errors.Wrapf(err, "parsing cte %q", p.CTE)
	}
	// a single non-finite sample would poison the integral term and the tuner's best MSE
	if math.IsNaN(cte) || math.IsInf(cte, 0) {
		return telemetry{}, errors.Wrapf(errNonFinite, "cte %q", p.CTE)
	}
	return telemetry{
		cte:           cte,
		speed:         parseFloat(p.Speed),
		steeringAngle: parseFloat(p.SteeringAngle),
	}, nil
}

type steerPayload struct {
	SteeringAngle float64 `json:"steering_angle"`
	Throttle      float64 `json:"throttle"`
}

func formatSteer(cmd command) (string, error) {
	b, err := json.Marshal(steerPayload{SteeringAngle: cmd.steering, Throttle: cmd.throttle})
	if err != nil {
		return "", err
	}
	return eventPrefix + `["steer",` + string(b) + "]", nil
}

func parseFloat(fs interface{}) float64 {
	ff, err := strconv.ParseFloat(fmt.Sprintf("%v", fs), 64)
	if err != nil {
		return 0
	}

	return ff
}
