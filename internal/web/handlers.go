package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"pefsched/internal/config"
	"pefsched/internal/export"
	"pefsched/internal/ics"
	appLog "pefsched/internal/log"
	"pefsched/internal/schedule"
	"pefsched/internal/store/sqlite"
)

const maxImportBytes = 8 << 20

// writeError maps service errors to HTTP statuses with an {"error": ...}
// body. Unexpected errors are logged and reported without detail.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schedule.ErrInvalidQuery), errors.Is(err, schedule.ErrInvalidEvent),
		errors.Is(err, sqlite.ErrInvalidSession):
		status = http.StatusBadRequest
	case errors.Is(err, sqlite.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, schedule.ErrTooManyResults):
		status = http.StatusUnprocessableEntity
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err, "method", c.Request.Method, "path", c.Request.URL.Path)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (s *Server) dateRange(c *gin.Context, q schedule.Query) ([]schedule.Item, bool) {
	items, err := s.svc.DateRange(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return items, true
}

// GET /fullcalendar-api/get-event-data-date-range/:location/:start/:end[/:categories]
//
//   - categories: comma separated, path segment
//   - excl:       ";" separated categories to drop
//   - limit:      ";" separated categories to keep
func (s *Server) handleDateRange(c *gin.Context) {
	q := schedule.Query{
		Location:   c.Param("location"),
		Start:      c.Param("start"),
		End:        c.Param("end"),
		Categories: schedule.SplitList(c.Param("categories"), ","),
		Exclude:    schedule.SplitList(c.Query("excl"), ";"),
		Limit:      schedule.SplitList(c.Query("limit"), ";"),
	}
	ctx := c.Request.Context()
	key := q.CacheKey()

	if body, ok, err := s.cache.Get(ctx, key); err != nil {
		appLog.Warn("cache get failed", "err", err.Error())
	} else if ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
		return
	}

	items, ok := s.dateRange(c, q)
	if !ok {
		return
	}
	body, err := json.Marshal(items)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.cache.Set(ctx, key, body); err != nil {
		appLog.Warn("cache set failed", "err", err.Error())
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// exportQuery reads the date-range parameters of the export endpoints
// from the query string.
func exportQuery(c *gin.Context) schedule.Query {
	return schedule.Query{
		Location:   c.Query("location"),
		Start:      c.Query("start"),
		End:        c.Query("end"),
		Categories: schedule.SplitList(c.Query("categories"), ","),
		Exclude:    schedule.SplitList(c.Query("excl"), ";"),
		Limit:      schedule.SplitList(c.Query("limit"), ";"),
	}
}

func (s *Server) handleExportICS(c *gin.Context) {
	items, ok := s.dateRange(c, exportQuery(c))
	if !ok {
		return
	}
	body := ics.EncodeItems(items, ics.FeedOptions{
		Name:     "Schedule",
		Location: s.svc.Options().Location,
	})
	c.Header("Content-Disposition", `attachment; filename="schedule.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

func (s *Server) handleExportXLSX(c *gin.Context) {
	items, ok := s.dateRange(c, exportQuery(c))
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, items); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="schedule.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// GET /fullcalendar-api/feed/:location serves the recurring schedule of a
// location ("all" for every location) as a subscribable calendar.
func (s *Server) handleFeed(c *gin.Context) {
	ctx := c.Request.Context()
	location := strings.TrimSuffix(c.Param("location"), ".ics")
	sessions, err := s.svc.FeedSessions(ctx, location)
	if err != nil {
		writeError(c, err)
		return
	}
	titles, err := s.svc.Branches(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	name := "Schedule"
	if id, err := strconv.ParseInt(location, 10, 64); err == nil && titles[id] != "" {
		name = titles[id]
	}
	body := ics.EncodeSessions(sessions, ics.FeedOptions{
		Name:           name,
		Location:       s.svc.Options().Location,
		LocationTitles: titles,
	})
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

func (s *Server) handleBranches(c *gin.Context) {
	out, err := s.svc.Branches(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleClasses(c *gin.Context) {
	out, err := s.svc.Classes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCategories(c *gin.Context) {
	out, err := s.svc.Categories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) invalidate(c *gin.Context) {
	if err := s.cache.Invalidate(c.Request.Context()); err != nil {
		appLog.Warn("cache invalidate failed", "err", err.Error())
	}
}

func (s *Server) handleCreateEvent(c *gin.Context) {
	var req schedule.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", schedule.ErrInvalidEvent, err))
		return
	}
	id, err := s.svc.CreateEvent(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	s.invalidate(c)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleUpdateEvent(c *gin.Context) {
	var req schedule.UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", schedule.ErrInvalidEvent, err))
		return
	}
	if err := s.svc.UpdateEvent(c.Request.Context(), req); err != nil {
		writeError(c, err)
		return
	}
	s.invalidate(c)
	c.JSON(http.StatusOK, gin.H{"id": int64(req.ID)})
}

// POST /fullcalendar-api/import-ics?location=<id|title>&class=<id>
// The request body is an ICS document.
func (s *Server) handleImportICS(c *gin.Context) {
	ctx := c.Request.Context()
	locID, err := s.svc.ResolveLocation(ctx, c.Query("location"))
	if err != nil {
		writeError(c, err)
		return
	}
	if locID == 0 {
		writeError(c, fmt.Errorf("%w: location is required", schedule.ErrInvalidQuery))
		return
	}
	var classID int64
	if v := c.Query("class"); v != "" {
		if classID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(c, fmt.Errorf("%w: class %q", schedule.ErrInvalidQuery, v))
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				gin.H{"error": fmt.Sprintf("calendar exceeds %d bytes", tooLarge.Limit)})
			return
		}
		writeError(c, fmt.Errorf("%w: read body: %v", schedule.ErrInvalidQuery, err))
		return
	}
	loc := s.svc.Options().Location
	src := ics.Source{ID: "upload", LocationID: locID, ClassID: classID}
	events, err := ics.ParseICS(src, body, loc)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", schedule.ErrInvalidQuery, err))
		return
	}
	sessions := ics.ToSessions(events, ics.SessionOptions{LocationID: locID, ClassID: classID, Location: loc})
	res, err := s.svc.ImportSessions(ctx, sessions)
	if res.Created+res.Updated > 0 {
		s.invalidate(c)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// settingsResponse is what the calendar widget needs to render.
type settingsResponse struct {
	Calendar     config.CalendarSettings `json:"calendar"`
	DefaultColor string                  `json:"default_color"`
	Timezone     string                  `json:"timezone"`
	WeekStart    string                  `json:"week_start"`
}

type settingsRequest struct {
	Calendar     *config.CalendarSettings `json:"calendar"`
	DefaultColor *string                  `json:"default_color"`
	WeekStart    *string                  `json:"week_start"`
}

func settingsFrom(cfg *config.Config) settingsResponse {
	return settingsResponse{
		Calendar:     cfg.Calendar,
		DefaultColor: cfg.DefaultColor,
		Timezone:     cfg.Timezone,
		WeekStart:    cfg.WeekStart,
	}
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, settingsFrom(s.config()))
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next := s.config().Clone()
	if req.Calendar != nil {
		next.Calendar = *req.Calendar
	}
	if req.DefaultColor != nil {
		next.DefaultColor = strings.TrimSpace(*req.DefaultColor)
	}
	if req.WeekStart != nil {
		next.WeekStart = strings.ToLower(strings.TrimSpace(*req.WeekStart))
		if next.WeekStart != "monday" && next.WeekStart != "sunday" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "week_start must be monday or sunday"})
			return
		}
	}
	if err := next.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.configPath != "" {
		if err := config.Save(s.configPath, next); err != nil {
			writeError(c, fmt.Errorf("save config: %w", err))
			return
		}
	}

	s.SetConfig(next)
	if s.onConfig != nil {
		s.onConfig(next)
	}
	s.invalidate(c)
	appLog.Info("settings updated", "default_color", next.DefaultColor, "slot_duration", next.Calendar.SlotDuration)
	c.JSON(http.StatusOK, settingsFrom(next))
}
