package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"boardrelay/api/internal/canvas"
	"boardrelay/api/internal/export"
	"boardrelay/api/internal/geom"
	"boardrelay/api/internal/search"
	"boardrelay/api/internal/trigger"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        logrus.FieldLogger
	echo       *echo.Echo
}

func NewHTTPServer(service *Service, corsOrigin string, log logrus.FieldLogger) *HTTPServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{corsOrigin},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
	}))
	e.Use(s.accessLog)
	s.routes(e)
	s.echo = e
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) routes(e *echo.Echo) {
	e.Match([]string{http.MethodGet, http.MethodHead}, "/api/health", s.health)
	e.Match([]string{http.MethodGet, http.MethodHead}, "/api/ready", s.ready)

	e.POST("/api/boards", s.createBoard)
	e.POST("/api/boards/:board/sessions", s.openSession)
	e.GET("/api/boards/:board/search", s.searchBoard)
	e.GET("/api/boards/:board/export", s.exportBoard)

	g := e.Group("/api/sessions/:session")
	g.DELETE("", s.closeSession)
	g.GET("/objects", s.objects)
	g.GET("/stream", s.streamSession)
	g.POST("/gestures/begin", s.beginGesture)
	g.POST("/gestures/move", s.moveGesture)
	g.POST("/gestures/resize", s.resizeGesture)
	g.POST("/gestures/end", s.endGesture)
	g.POST("/gestures/cancel", s.cancelGesture)
	g.POST("/zones", s.createZone)
	g.POST("/notes", s.createNote)
	g.POST("/comments", s.createComment)
	g.POST("/pinned", s.pinEntity)
	g.DELETE("/objects/:object", s.removeObject)
	g.PUT("/zones/:object/trigger", s.setZoneTrigger)
	g.POST("/choices/:choice", s.confirmChoice)
	g.DELETE("/choices/:choice", s.cancelChoice)
	g.PUT("/cursor", s.moveCursor)
}

// accessLog writes one structured line per request.
func (s *HTTPServer) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.log.WithFields(logrus.Fields{
			"request_id":  c.Response().Header().Get(echo.HeaderXRequestID),
			"method":      c.Request().Method,
			"path":        c.Request().URL.Path,
			"status":      c.Response().Status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
		return nil
	}
}

func (s *HTTPServer) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code := "HTTP_ERROR"
		switch httpErr.Code {
		case http.StatusNotFound:
			code = "NOT_FOUND"
		case http.StatusMethodNotAllowed:
			code = "METHOD_NOT_ALLOWED"
		case http.StatusBadRequest:
			code = "BAD_REQUEST"
		}
		writeError(c, httpErr.Code, code, fmt.Sprint(httpErr.Message), nil)
		return
	}
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.Request().URL.Path).Error("request failed")
	}
	writeError(c, status, code, message, details)
}

func writeJSON(c echo.Context, status int, payload any) error {
	return c.JSON(status, payload)
}

func writeError(c echo.Context, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = writeJSON(c, status, response)
}

func decodeBody(c echo.Context, target any) error {
	body := c.Request().Body
	if body == nil {
		return nil
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	return nil
}

func (s *HTTPServer) health(c echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	return writeJSON(c, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) createBoard(c echo.Context) error {
	var body CreateBoardInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	board, err := s.service.CreateBoard(c.Request().Context(), body)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusCreated, board)
}

func (s *HTTPServer) openSession(c echo.Context) error {
	var body OpenSessionInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	view, err := s.service.OpenSession(c.Request().Context(), c.Param("board"), body)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusCreated, view)
}

func (s *HTTPServer) closeSession(c echo.Context) error {
	if err := s.service.CloseSession(c.Request().Context(), c.Param("session")); err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) objects(c echo.Context) error {
	cs, err := s.service.session(c.Param("session"))
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, cs.view())
}

type pointBody struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s *HTTPServer) beginGesture(c echo.Context) error {
	var body struct {
		ObjectID string             `json:"objectId"`
		Mode     canvas.GestureMode `json:"mode"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	if body.Mode == "" {
		body.Mode = canvas.GestureMove
	}
	return s.withSession(c, func(cs *canvasSession) (any, error) {
		return cs.beginGesture(body.ObjectID, body.Mode)
	})
}

func (s *HTTPServer) moveGesture(c echo.Context) error {
	var body pointBody
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	return s.withSession(c, func(cs *canvasSession) (any, error) {
		return cs.moveGesture(geom.Point{X: body.X, Y: body.Y})
	})
}

func (s *HTTPServer) resizeGesture(c echo.Context) error {
	var body struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	return s.withSession(c, func(cs *canvasSession) (any, error) {
		return cs.resizeGesture(body.Width, body.Height)
	})
}

func (s *HTTPServer) endGesture(c echo.Context) error {
	return s.withSession(c, func(cs *canvasSession) (any, error) {
		return cs.endGesture()
	})
}

func (s *HTTPServer) cancelGesture(c echo.Context) error {
	return s.withSession(c, func(cs *canvasSession) (any, error) {
		return cs.cancelGesture()
	})
}

func (s *HTTPServer) createZone(c echo.Context) error {
	var body ZoneInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	return s.withSessionStatus(c, http.StatusCreated, func(cs *canvasSession) (any, error) {
		return cs.createZone(c.Request().Context(), body)
	})
}

func (s *HTTPServer) createNote(c echo.Context) error {
	var body NoteInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	return s.withSessionStatus(c, http.StatusCreated, func(cs *canvasSession) (any, error) {
		return cs.createNote(c.Request().Context(), body)
	})
}

func (s *HTTPServer) createComment(c echo.Context) error {
	var body CommentInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	return s.withSessionStatus(c, http.StatusCreated, func(cs *canvasSession) (any, error) {
		return cs.createComment(c.Request().Context(), body)
	})
}

func (s *HTTPServer) pinEntity(c echo.Context) error {
	var body PinInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	return s.withSessionStatus(c, http.StatusCreated, func(cs *canvasSession) (any, error) {
		return cs.pinEntity(c.Request().Context(), body)
	})
}

func (s *HTTPServer) removeObject(c echo.Context) error {
	return s.withSession(c, func(cs *canvasSession) (any, error) {
		return cs.removeObject(c.Request().Context(), c.Param("object"))
	})
}

func (s *HTTPServer) setZoneTrigger(c echo.Context) error {
	var body struct {
		Trigger *canvas.Trigger `json:"trigger"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	return s.withSession(c, func(cs *canvasSession) (any, error) {
		return cs.setZoneTrigger(c.Request().Context(), c.Param("object"), body.Trigger)
	})
}

func (s *HTTPServer) confirmChoice(c echo.Context) error {
	var body trigger.Choice
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	return s.withSession(c, func(cs *canvasSession) (any, error) {
		agentSession, view, err := cs.confirmChoice(c.Request().Context(), c.Param("choice"), body)
		if err != nil {
			return nil, err
		}
		return map[string]any{"agentSessionId": agentSession, "view": view}, nil
	})
}

func (s *HTTPServer) cancelChoice(c echo.Context) error {
	return s.withSession(c, func(cs *canvasSession) (any, error) {
		return cs.cancelChoice(c.Param("choice"))
	})
}

func (s *HTTPServer) moveCursor(c echo.Context) error {
	var body pointBody
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	cs, err := s.service.session(c.Param("session"))
	if err != nil {
		return err
	}
	if err := cs.moveCursor(c.Request().Context(), geom.Point{X: body.X, Y: body.Y}); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) withSession(c echo.Context, fn func(*canvasSession) (any, error)) error {
	return s.withSessionStatus(c, http.StatusOK, fn)
}

func (s *HTTPServer) withSessionStatus(c echo.Context, status int, fn func(*canvasSession) (any, error)) error {
	cs, err := s.service.session(c.Param("session"))
	if err != nil {
		return err
	}
	out, err := fn(cs)
	if err != nil {
		return err
	}
	return writeJSON(c, status, out)
}

func (s *HTTPServer) searchBoard(c echo.Context) error {
	q := search.Query{
		Text:       strings.TrimSpace(c.QueryParam("q")),
		BoardID:    c.Param("board"),
		FilterType: search.ResultType(c.QueryParam("type")),
		Limit:      queryInt(c, "limit", 20),
		Offset:     queryInt(c, "offset", 0),
	}
	resp, err := s.service.Search(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *HTTPServer) exportBoard(c echo.Context) error {
	format := export.Format(strings.ToLower(c.QueryParam("format")))
	if format == "" {
		format = export.FormatHTML
	}
	upload, _ := strconv.ParseBool(c.QueryParam("upload"))
	result, err := s.service.Export(c.Request().Context(), export.Request{
		BoardID: c.Param("board"),
		Format:  format,
		Upload:  upload,
	})
	if err != nil {
		return err
	}
	if upload {
		return writeJSON(c, http.StatusOK, map[string]any{
			"url":       result.URL,
			"filename":  result.Filename,
			"expiresAt": result.ExpiresAt,
		})
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", result.Filename))
	return c.Blob(http.StatusOK, result.MimeType, result.Data)
}

func queryInt(c echo.Context, key string, fallback int) int {
	raw := c.QueryParam(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
