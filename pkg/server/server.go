// Package server exposes the camera, the stills and the device over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/ov"
	"qr-shutter-pi/pkg/schedule"
	"qr-shutter-pi/pkg/storage"
	"qr-shutter-pi/pkg/utils"
	"qr-shutter-pi/pkg/utils/ps"
)

const (
	webDavStart    = "start"
	webDavShutdown = "shutdown"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("server")
}

// Camera is the host command surface, implemented by *camera.Manager.
type Camera interface {
	Resume(ctx context.Context) error
	Pause()
	Status() (camera.Status, error)
	ChangeMode(mode camera.CameraMode) error
	SwitchToAutoMode() error
	SwitchToManualMode() error
	SetExposure(d time.Duration) error
	SetIso(iso int) error
	TakePicture() error
}

// Share toggles network access to the stills, implemented by *webdav.Webdav.
type Share interface {
	Start() error
	Stop()
	Running() bool
	Port() int
}

// Timer fires the shutter periodically, implemented by *schedule.Scheduler.
type Timer interface {
	Begin(interval time.Duration) error
	Stop()
	Status() schedule.Status
}

type Server struct {
	cam   Camera
	stg   *storage.Storage
	hub   *Hub
	share Share
	timer Timer

	origins []string
}

func New(cam Camera, stg *storage.Storage, hub *Hub, share Share, timer Timer, origins []string) *Server {
	return &Server{
		cam:     cam,
		stg:     stg,
		hub:     hub,
		share:   share,
		timer:   timer,
		origins: origins,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(utils.Cors(s.origins))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	r.GET("/ws", gin.WrapH(s.hub))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiRouter := r.Group("/api")

	cameraRouter := apiRouter.Group("/camera")
	cameraRouter.GET("", s.cameraStatus)
	cameraRouter.PUT("/resume", s.resume)
	cameraRouter.PUT("/pause", s.pause)
	cameraRouter.PUT("/mode", s.changeMode)
	cameraRouter.PUT("/focus", s.changeFocus)
	cameraRouter.PUT("/exposure", s.setExposure)
	cameraRouter.PUT("/iso", s.setIso)
	cameraRouter.POST("/picture", s.takePicture)
	cameraRouter.GET("/interval", s.interval)
	cameraRouter.PUT("/interval", s.setInterval)
	cameraRouter.GET("/ranges", s.ranges)
	cameraRouter.GET("/found", s.found)
	cameraRouter.GET("/notices", s.notices)

	stillRouter := apiRouter.Group("/stills")
	stillRouter.GET("", s.listStills)
	stillRouter.GET("/info", s.stillsInfo)
	stillRouter.GET("/latest", s.latestStill)
	stillRouter.GET("/:name", s.getStill)
	stillRouter.DELETE("", s.clearStills)

	deviceRouter := apiRouter.Group("/device")
	deviceRouter.GET("/status", s.deviceStatus)
	deviceRouter.PUT("/webdav", s.ctlWebdav)

	return r
}

func (s *Server) cameraStatus(c *gin.Context) {
	st, err := s.cam.Status()
	if err != nil {
		cameraErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(st))
}

func (s *Server) resume(c *gin.Context) {
	if err := s.cam.Resume(c.Request.Context()); err != nil {
		cameraErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(nil))
}

func (s *Server) pause(c *gin.Context) {
	s.cam.Pause()

	c.JSON(http.StatusOK, jsend.Success(nil))
}

func (s *Server) changeMode(c *gin.Context) {
	var req ov.Mode
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	mode, err := camera.ParseCameraMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if err := s.cam.ChangeMode(mode); err != nil {
		cameraErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(req))
}

func (s *Server) changeFocus(c *gin.Context) {
	var req ov.Focus
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}

	var err error
	if req.Focus == "manual" {
		err = s.cam.SwitchToManualMode()
	} else {
		err = s.cam.SwitchToAutoMode()
	}
	if err != nil {
		cameraErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(req))
}

func (s *Server) setExposure(c *gin.Context) {
	var req ov.Exposure
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if err := s.cam.SetExposure(camera.ExposureFromDivisor(req.Divisor)); err != nil {
		cameraErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(req))
}

func (s *Server) setIso(c *gin.Context) {
	var req ov.Iso
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if err := s.cam.SetIso(req.Iso); err != nil {
		cameraErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(req))
}

func (s *Server) takePicture(c *gin.Context) {
	if err := s.cam.TakePicture(); err != nil {
		cameraErr(c, err)
		return
	}

	c.JSON(http.StatusAccepted, jsend.Success("capture started"))
}

func (s *Server) interval(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(s.timer.Status()))
}

// setInterval starts the timed shutter; an interval of 0 stops it.
func (s *Server) setInterval(c *gin.Context) {
	var req ov.Interval
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if req.IntervalMs == 0 {
		s.timer.Stop()
		c.JSON(http.StatusOK, jsend.Success(s.timer.Status()))
		return
	}
	if err := s.timer.Begin(time.Duration(req.IntervalMs) * time.Millisecond); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}

	c.JSON(http.StatusOK, jsend.Success(s.timer.Status()))
}

func (s *Server) ranges(c *gin.Context) {
	iso, exposure := s.hub.Ranges()

	c.JSON(http.StatusOK, jsend.Success(ov.Ranges{Iso: iso, Exposure: exposure}))
}

func (s *Server) found(c *gin.Context) {
	text, at := s.hub.Found()
	if text == "" {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("nothing found yet"))
		return
	}

	c.JSON(http.StatusOK, jsend.Success(ov.Found{Text: text, At: at.Format(time.RFC3339)}))
}

func (s *Server) notices(c *gin.Context) {
	var out []ov.Notice
	for _, n := range s.hub.Notices() {
		item := ov.Notice{Severity: n.Severity.String(), Message: n.Message}
		if n.Err != nil {
			item.Error = n.Err.Error()
		}
		out = append(out, item)
	}

	c.JSON(http.StatusOK, jsend.Success(out))
}

func (s *Server) listStills(c *gin.Context) {
	files, err := s.stg.ListImages()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(files))
}

func (s *Server) stillsInfo(c *gin.Context) {
	info, err := s.stg.Info()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(info))
}

func (s *Server) latestStill(c *gin.Context) {
	name, data, err := s.stg.LatestImage()
	if err != nil {
		storageErr(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) getStill(c *gin.Context) {
	data, err := s.stg.GetImage(c.Param("name"))
	if err != nil {
		storageErr(c, err)
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) clearStills(c *gin.Context) {
	if err := s.stg.Clear(); err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(nil))
}

func (s *Server) deviceStatus(c *gin.Context) {
	st, err := ps.Status(s.stg.ImageDir())
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(st))
}

func (s *Server) ctlWebdav(c *gin.Context) {
	op := c.Query("op")
	switch op {
	case webDavStart:
		s.startWebdav(c)
	case webDavShutdown:
		s.shutdownWebdav(c)
	case "":
		c.JSON(http.StatusOK, jsend.Success(gin.H{"running": s.share.Running(), "port": s.share.Port()}))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

func (s *Server) startWebdav(c *gin.Context) {
	if s.share.Running() {
		c.JSON(http.StatusOK, jsend.Success("the webdav service is already enabled"))
		return
	}
	if err := s.share.Start(); err != nil {
		internalErr(c, err)
		return
	}
	logger.Infof("webdav enabled on port %d", s.share.Port())

	c.JSON(http.StatusOK, jsend.Success(gin.H{"port": s.share.Port()}))
}

func (s *Server) shutdownWebdav(c *gin.Context) {
	if !s.share.Running() {
		c.JSON(http.StatusOK, jsend.SimpleErr("the webdav service has been shut down"))
		return
	}
	s.share.Stop()
	logger.Info("webdav disabled")

	c.JSON(http.StatusOK, jsend.Success(nil))
}

func cameraErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, camera.ErrNotRunning),
		errors.Is(err, camera.ErrAlreadyOpen),
		errors.Is(err, camera.ErrCaptureInProgress),
		errors.Is(err, camera.ErrNoSession):
		c.JSON(http.StatusConflict, jsend.SimpleErr(err.Error()))
	case errors.Is(err, camera.ErrOpenTimeout),
		errors.Is(err, camera.ErrOpenInterrupted),
		errors.Is(err, camera.ErrUnsupportedDevice):
		c.JSON(http.StatusServiceUnavailable, jsend.SimpleErr(err.Error()))
	default:
		internalErr(c, err)
	}
}

func storageErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
	case errors.Is(err, storage.ErrInvalidName):
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
	default:
		internalErr(c, err)
	}
}

func internalErr(c *gin.Context, err error) {
	logger.Errorf("%s %s: %s", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
