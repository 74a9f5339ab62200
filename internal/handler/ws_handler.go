package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs proctored test sessions over WebSocket.
type WSHandler struct {
	proctorService *service.ProctorService
	engageTimeout  time.Duration
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(proctorService *service.ProctorService, engageTimeout time.Duration, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		proctorService: proctorService,
		engageTimeout:  engageTimeout,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// wsConnection is the per-socket state shared by the action handlers.
type wsConnection struct {
	out        *connWriter
	gateway    *wsGateway
	visibility *wsVisibility
	session    *proctor.Session
	log        zerolog.Logger

	ctx      context.Context
	inflight sync.WaitGroup
}

// TestSessionStream godoc
// WS /ws/v1/learner/tests/:test_id/session
// Opens one proctored session for the lifetime of the connection. A dropped
// connection abandons the session.
func (h *WSHandler) TestSessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	learnerID := claims.UserID
	wsLog := h.log.With().
		Int("learner_id", learnerID).
		Str("test_id", testID.String()).
		Logger()

	out := newConnWriter(func(v interface{}) error { return ws.WriteTyped(conn, v) }, wsLog)
	go out.Run()
	defer out.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wc := &wsConnection{
		out:        out,
		gateway:    newWSGateway(out),
		visibility: newWSVisibility(),
		log:        wsLog,
		ctx:        ctx,
	}

	session, err := h.proctorService.Open(c.Request.Context(), service.OpenRequest{
		TestID:     testID,
		LearnerID:  learnerID,
		Gateway:    wc.gateway,
		Visibility: wc.visibility,
		Notifier:   proctor.NotifierFunc(out.notify),
	})
	if err != nil {
		code := sessionErrCode(err)
		if code == response.ErrInternal {
			wsLog.Error().Err(err).Msg("Failed to open session")
		}
		out.Send(errorFrame(code, ""))
		return
	}
	wc.session = session
	wc.log = wsLog.With().Str("session_id", session.ID().String()).Logger()

	defer func() {
		cancel()
		wc.inflight.Wait()
		if err := h.proctorService.Close(session.ID()); err != nil {
			wc.log.Warn().Err(err).Msg("Failed to close session")
		}
	}()

	wc.log.Info().Msg("Learner connected")
	out.Send(ws.StateResponse{Event: ws.EventState, State: session.State()})

	for {
		env, err := ws.ReadEnvelope(conn)
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wc.log.Warn().Err(err).Msg("Unexpected close")
				} else {
					wc.log.Debug().Msg("Connection closed")
				}
				return
			case errors.Is(err, ws.ErrMalformedMessage):
				out.Send(errorFrame(response.ErrInvalidPayload, ""))
				continue
			default:
				wc.log.Debug().Err(err).Msg("Read failed")
				return
			}
		}

		select {
		case <-out.Closed():
			wc.log.Warn().Msg("Writer stopped, dropping connection")
			return
		default:
		}

		h.dispatch(wc, env)
	}
}

func (h *WSHandler) dispatch(wc *wsConnection, env ws.RequestEnvelope) {
	switch env.Action {
	case ws.ActionBegin:
		wc.async(env.Action, h.engageTimeout, wc.session.Begin)

	case ws.ActionReengage:
		wc.async(env.Action, h.engageTimeout, wc.session.Reengage)

	case ws.ActionEngageResult:
		var req ws.EngageResultRequest
		if !wc.decode(env, &req) {
			return
		}
		if !wc.gateway.resolve(req.RequestID, req.OK, req.Error) {
			wc.log.Debug().Str("request_id", req.RequestID).Bool("ok", req.OK).Msg("Stale engage result")
		}

	case ws.ActionPresentationExit:
		wc.gateway.exited()

	case ws.ActionVisibility:
		var req ws.VisibilityRequest
		if !wc.decode(env, &req) {
			return
		}
		wc.visibility.set(*req.Visible)

	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if !wc.decode(env, &req) {
			return
		}
		wc.reply(env.Action, wc.session.SetAnswer(req.QID, req.OptionID))

	case ws.ActionNext:
		wc.session.Next()
		wc.sendState()

	case ws.ActionPrevious:
		wc.session.Previous()
		wc.sendState()

	case ws.ActionJump:
		var req ws.JumpRequest
		if !wc.decode(env, &req) {
			return
		}
		if err := wc.session.JumpTo(*req.Index); err != nil {
			wc.out.Send(errorFrame(sessionErrCode(err), env.Action))
			return
		}
		wc.sendState()

	case ws.ActionSubmit:
		// The completed event follows from the session itself.
		wc.session.ManualSubmit()

	case ws.ActionState:
		wc.sendState()

	case ws.ActionPing:
		wc.out.Send(ws.PongResponse{Event: ws.EventPong})

	default:
		wc.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		wc.out.Send(errorFrame(response.ErrUnknownAction, env.Action))
	}
}

// async runs a presentation request off the read loop, which has to stay
// free to receive the matching engage_result.
func (wc *wsConnection) async(action ws.Action, timeout time.Duration, fn func(context.Context) error) {
	wc.inflight.Add(1)
	go func() {
		defer wc.inflight.Done()
		ctx, cancel := context.WithTimeout(wc.ctx, timeout)
		defer cancel()
		err := fn(ctx)
		if err != nil && wc.ctx.Err() != nil {
			return
		}
		wc.reply(action, err)
		if err == nil {
			wc.sendState()
		}
	}()
}

func (wc *wsConnection) decode(env ws.RequestEnvelope, v interface{}) bool {
	if err := env.Decode(v); err != nil {
		wc.out.Send(errorFrame(response.ErrInvalidPayload, env.Action))
		return false
	}
	if fields := validator.Check(v); fields != nil {
		frame := errorFrame(response.ErrValidation, env.Action)
		frame.Fields = fields
		wc.out.Send(frame)
		return false
	}
	return true
}

func (wc *wsConnection) reply(action ws.Action, err error) {
	if err != nil {
		code := sessionErrCode(err)
		if code == response.ErrInternal {
			wc.log.Error().Err(err).Str("action", string(action)).Msg("Action failed")
		}
		wc.out.Send(errorFrame(code, action))
		return
	}
	wc.out.Send(ws.AckResponse{Event: ws.EventAck, Action: action})
}

func (wc *wsConnection) sendState() {
	wc.out.Send(ws.StateResponse{Event: ws.EventState, State: wc.session.State()})
}

func errorFrame(code response.ErrCode, action ws.Action) ws.ErrorResponse {
	return ws.ErrorResponse{
		Event:  ws.EventError,
		Code:   string(code),
		Error:  response.GetMessage(code),
		Action: action,
	}
}

// sessionErrCode maps session and service errors to client-facing codes.
func sessionErrCode(err error) response.ErrCode {
	switch {
	case errors.Is(err, proctor.ErrPresentationModeDenied):
		return response.ErrPresentationDenied
	case errors.Is(err, proctor.ErrInvalidReference):
		return response.ErrInvalidReference
	case errors.Is(err, proctor.ErrOutOfRange):
		return response.ErrOutOfRange
	case errors.Is(err, proctor.ErrBeginPending):
		return response.ErrBeginPending
	case errors.Is(err, proctor.ErrSessionClosed):
		return response.ErrSessionClosed
	case errors.Is(err, service.ErrSessionAlreadyOpen):
		return response.ErrSessionOpen
	case errors.Is(err, service.ErrTestNotFound):
		return response.ErrNotFound
	case errors.Is(err, service.ErrNoQuestions):
		return response.ErrNoQuestions
	default:
		return response.ErrInternal
	}
}
