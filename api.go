package main

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"

	"eupho-cam/pkg/camera"
	"eupho-cam/pkg/gesture"
	"eupho-cam/pkg/ov"
	"eupho-cam/pkg/overlay"
	"eupho-cam/pkg/preview"
	"eupho-cam/pkg/session"
	"eupho-cam/pkg/storage/export"
	"eupho-cam/pkg/types"
	imgutil "eupho-cam/pkg/utils/image"
	"eupho-cam/pkg/utils/ps"
)

const (
	webDavStart    = "start"
	webDavShutdown = "shutdown"

	liveQuality = 80
)

func registerAPI(api *gin.RouterGroup) {
	sessionRouter := api.Group("/session")
	sessionRouter.GET("", getState)
	sessionRouter.POST("/mount", mount)
	sessionRouter.POST("/leave", leave)
	sessionRouter.PUT("/facing", switchFacing)
	sessionRouter.GET("/live", liveVideo)
	sessionRouter.POST("/touch", touch)
	sessionRouter.POST("/tap", tap)
	sessionRouter.GET("/notifications", notifications)

	overlayRouter := api.Group("/overlays")
	overlayRouter.GET("", listOverlays)
	overlayRouter.PUT("/selected", selectOverlay)
	overlayRouter.POST("", uploadOverlay)

	prefsRouter := api.Group("/prefs")
	prefsRouter.GET("/photo-format", getPhotoFormat)
	prefsRouter.PUT("/photo-format", setPhotoFormat)

	captureRouter := api.Group("/capture")
	captureRouter.POST("/photo", capturePhoto)
	captureRouter.POST("/video/start", startRecording)
	captureRouter.POST("/video/stop", stopRecording)
	captureRouter.GET("/video", recordingStatus)

	previewRouter := api.Group("/preview")
	previewRouter.GET("", getPreview)
	previewRouter.GET("/content", previewContent)
	previewRouter.POST("/retake", retake)
	previewRouter.POST("/save", save)

	exportRouter := api.Group("/exports")
	exportRouter.GET("", listExports)
	exportRouter.GET("/:name", downloadExport)
	exportRouter.DELETE("/:name", deleteExport)

	deviceRouter := api.Group("/device")
	deviceRouter.GET("/status", deviceStatus)
	deviceRouter.GET("/controls", listControls)
	deviceRouter.PUT("/controls", updateControl)
	deviceRouter.GET("/webdav", getWebdav)
	deviceRouter.PUT("/webdav", ctlWebdav)
}

func getState(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(ses.State()))
}

func mount(c *gin.Context) {
	if err := ses.Mount(c.Request.Context()); err != nil {
		apiErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(ses.State()))
}

func leave(c *gin.Context) {
	ses.Leave()
	c.JSON(http.StatusOK, jsend.Success(ses.State()))
}

func switchFacing(c *gin.Context) {
	facing, err := ses.SwitchFacing(c.Request.Context())
	if err != nil {
		apiErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(ov.Facing{Facing: string(facing)}))
}

// liveVideo streams the composed live view as multipart JPEG until the
// client goes away or the session stops streaming.
func liveVideo(c *gin.Context) {
	mimeWriter := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mimeWriter.Boundary()))
	partHeader := make(textproto.MIMEHeader)
	partHeader.Add("Content-Type", "image/jpeg")

	fps := cfg.Camera.FPS
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	var last uint64
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
		img, seq, err := ses.LiveFrame()
		switch {
		case errors.Is(err, camera.ErrNotAcquired), errors.Is(err, session.ErrPreviewing):
			return
		case err != nil || seq == last:
			continue
		}
		last = seq

		partWriter, err := mimeWriter.CreatePart(partHeader)
		if err != nil {
			logger.Errorf("failed to create multi-part writer: %s", err)
			return
		}
		if err = imgutil.EncodeJPEG(img, partWriter, liveQuality); err != nil {
			logger.Errorf("failed to write image: %s", err)
			return
		}
		c.Writer.Flush()
	}
}

func touch(c *gin.Context) {
	var req ov.Touch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	touches := make([]gesture.Touch, 0, len(req.Touches))
	for _, p := range req.Touches {
		touches = append(touches, gesture.Touch{X: p.X, Y: p.Y})
	}
	if err := ses.Touch(req.Phase, touches); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	c.JSON(http.StatusOK, jsend.Success(ses.State()))
}

func tap(c *gin.Context) {
	var p ov.Point
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	accepted := ses.Tap(camera.Point{X: p.X, Y: p.Y})
	c.JSON(http.StatusOK, jsend.Success(ov.TapResult{Accepted: accepted}))
}

func notifications(c *gin.Context) {
	after, _ := strconv.ParseUint(c.Query("after"), 10, 64)
	c.JSON(http.StatusOK, jsend.Success(ses.Notifier().Since(after)))
}

func listOverlays(c *gin.Context) {
	assets := ses.Catalog().List()
	res := make([]overlay.Info, 0, len(assets))
	for _, a := range assets {
		res = append(res, a.Info())
	}
	c.JSON(http.StatusOK, jsend.Success(res))
}

func selectOverlay(c *gin.Context) {
	var req ov.SelectOverlay
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	a, err := ses.SelectOverlay(req.ID)
	if err != nil {
		apiErr(c, err)
		return
	}
	if a == nil {
		c.JSON(http.StatusOK, jsend.Success(nil))
		return
	}
	c.JSON(http.StatusOK, jsend.Success(a.Info()))
}

func uploadOverlay(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	f, err := fh.Open()
	if err != nil {
		internalErr(c, err)
		return
	}
	defer f.Close()

	name := c.PostForm("name")
	if name == "" {
		name = fh.Filename
	}
	a, err := ses.UploadOverlay(f, name)
	if errors.Is(err, overlay.ErrTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, jsend.SimpleErr(err.Error()))
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	c.JSON(http.StatusOK, jsend.Success(a.Info()))
}

func getPhotoFormat(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(ov.PhotoFormat{Format: string(ses.PhotoFormat())}))
}

func setPhotoFormat(c *gin.Context) {
	var req ov.PhotoFormat
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	f, err := types.ParsePhotoFormat(req.Format)
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if err = ses.SetPhotoFormat(f); err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(req))
}

func capturePhoto(c *gin.Context) {
	a, err := ses.CapturePhoto()
	if err != nil {
		apiErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(a))
}

func startRecording(c *gin.Context) {
	if err := ses.StartRecording(c.Request.Context()); err != nil {
		apiErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(ses.RecordingStatus()))
}

func stopRecording(c *gin.Context) {
	a, err := ses.StopRecording(c.Request.Context())
	if err != nil {
		apiErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(a))
}

func recordingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(ses.RecordingStatus()))
}

func getPreview(c *gin.Context) {
	a, ok := ses.Preview().Artifact()
	if !ok {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(preview.ErrNoArtifact.Error()))
		return
	}
	c.JSON(http.StatusOK, jsend.Success(a))
}

func previewContent(c *gin.Context) {
	r, a, err := ses.Preview().Open()
	if err != nil {
		apiErr(c, err)
		return
	}
	defer r.Close()

	if c.Query("download") != "" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", export.FileName(a.CreatedAt, a.Extension)))
	}
	c.Header("Content-Type", a.MimeType)
	http.ServeContent(c.Writer, c.Request, "", a.CreatedAt, r)
}

func retake(c *gin.Context) {
	ses.Retake()
	c.JSON(http.StatusOK, jsend.Success(ses.State()))
}

func save(c *gin.Context) {
	name, err := ses.Save()
	if err != nil {
		apiErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(ov.Saved{Name: name}))
}

func listExports(c *gin.Context) {
	files, err := stg.Exports.List()
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(files))
}

func downloadExport(c *gin.Context) {
	name := c.Param("name")
	f, err := stg.Exports.Open(name)
	if err != nil {
		apiErr(c, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		internalErr(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}

func deleteExport(c *gin.Context) {
	name := c.Param("name")
	if err := stg.Exports.Remove(name); err != nil {
		apiErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(fmt.Sprintf("delete %s success", name)))
}

func deviceStatus(c *gin.Context) {
	s, err := ps.Status(stg.Root(), stg.Exports.Path())
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(s))
}

func listControls(c *gin.Context) {
	ctrls, err := ses.Manager().Controls()
	if err != nil {
		apiErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(ctrls))
}

func updateControl(c *gin.Context) {
	var req ov.UpdateControl
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if err := ses.Manager().SetControl(req.ID, req.Value); err != nil {
		apiErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(req))
}

func getWebdav(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(ov.Webdav{Running: dav.Running(), Port: dav.Port()}))
}

func ctlWebdav(c *gin.Context) {
	op := c.Query("op")
	switch op {
	case webDavStart:
		if !dav.Start() {
			c.JSON(http.StatusOK, jsend.Success("the webdav service is already enabled"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(ov.Webdav{Running: true, Port: dav.Port(), Host: c.Request.Host}))
	case webDavShutdown:
		if !dav.Stop() {
			c.JSON(http.StatusOK, jsend.SimpleErr("the webdav service has been shut down"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(nil))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

// apiErr maps domain errors to HTTP status codes.
func apiErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var te *types.Error
	switch {
	case errors.Is(err, export.ErrNoSpace):
		status = http.StatusInsufficientStorage
	case errors.As(err, &te):
		switch te.Kind {
		case types.KindPermissionDenied:
			status = http.StatusForbidden
		case types.KindDeviceNotFound:
			status = http.StatusNotFound
		case types.KindMissingOverlay:
			status = http.StatusBadRequest
		case types.KindUnsupportedDevice:
			status = http.StatusNotImplemented
		case types.KindNoData:
			status = http.StatusUnprocessableEntity
		}
	case errors.Is(err, session.ErrWrongMode):
		status = http.StatusConflict
	case errors.Is(err, session.ErrUnknownOverlay), errors.Is(err, preview.ErrNoArtifact),
		errors.Is(err, camera.ErrNotAcquired), errors.Is(err, os.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, camera.ErrNoControls):
		status = http.StatusNotImplemented
	}
	c.JSON(status, jsend.SimpleErr(err.Error()))
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
