package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"eupho-cam/pkg/camera"
	"eupho-cam/pkg/config"
	"eupho-cam/pkg/overlay"
	"eupho-cam/pkg/preview"
	"eupho-cam/pkg/recorder"
	"eupho-cam/pkg/session"
	"eupho-cam/pkg/storage"
	"eupho-cam/pkg/utils"
	"eupho-cam/pkg/video"
	"eupho-cam/pkg/webdav"
)

var (
	configFile = flag.String("config", "", "yaml config file")
	webdavPort = flag.Int("webdav-port", 0, "webdav port")
	port       = flag.Int("port", 0, "ui port")
	storageDir = flag.String("dir", "", "storage dir")
	staticsDir = flag.String("statics", "", "statics dir")

	cfg   *config.Config
	clock config.Clock

	stg *storage.Storage
	ses *session.Session
	dav *webdav.Webdav

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
	flag.Parse()
}

func main() {
	defer logger.Sync()
	var err error

	cfg, err = loadConfig()
	if err != nil {
		logger.Fatal(err)
	}
	if err = utils.SetLevel(cfg.LogLevel); err != nil {
		logger.Fatal(err)
	}
	if err = clock.Sync(cfg.NTP); err != nil {
		logger.Warnf("ntp sync with %s: %s", cfg.NTP.Server, err)
	} else if cfg.NTP.Server != "" {
		logger.Infof("clock offset %s", clock.Offset())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// init storage
	stg, err = storage.New(cfg.StorageDir)
	if err != nil {
		logger.Fatal(err)
	}
	defer stg.Close()
	dav = webdav.New(ctx, cfg.WebdavPort, stg.Exports.Path())

	ses = newSession(ctx)

	// init gin
	r := gin.New()
	//gin.SetMode(gin.ReleaseMode)
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	if err := registerStaticsDir(r, cfg.StaticsDir, "/"); err != nil {
		logger.Warn(err)
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})
	registerAPI(r.Group("/api"))

	utils.ListenAndServe(r, cfg.Port, func() {
		ses.Leave()
		dav.Stop()
	})
}

// loadConfig reads the config file and applies the flags set explicitly.
func loadConfig() (*config.Config, error) {
	c, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			c.Port = *port
		case "webdav-port":
			c.WebdavPort = *webdavPort
		case "dir":
			c.StorageDir = *storageDir
		case "statics":
			c.StaticsDir = *staticsDir
		}
	})

	return c, config.Validate(c)
}

func newSession(ctx context.Context) *session.Session {
	catalog := overlay.NewCatalog(ctx, overlay.DefaultFetcher{Client: &http.Client{Timeout: 30 * time.Second}}, stg.Uploads)
	for _, o := range cfg.Overlays {
		catalog.Add(overlay.NewAsset(o.ID, o.Source, o.Description, o.Hint))
	}

	manager := camera.NewManager(ctx, camera.V4L2Opener{}, camera.Config{
		Devices: cfg.Devices(),
		Audio:   cfg.Camera.Audio,
		Width:   cfg.Camera.Width,
		Height:  cfg.Camera.Height,
		FPS:     cfg.Camera.FPS,
	})

	rc := recorder.DefaultConfig()
	rc.Preferences = cfg.Recording.Preferences
	rc.Factories = []video.Factory{video.NewFFmpeg(cfg.Recording.FFmpeg), video.MJPEG{}}
	rc.SettleDelay = cfg.Recording.SettleDelay()
	rc.Bitrate = cfg.Recording.BitrateBps
	rc.Timeslice = cfg.Recording.Timeslice()
	rc.FPS = cfg.Recording.FPS

	return session.New(session.Deps{
		Manager:  manager,
		Catalog:  catalog,
		Prefs:    stg.Prefs,
		Preview:  preview.New(stg.Blobs, stg.Exports, clock.Now),
		Notifier: session.NewNotifier(clock.Now),
		Recorder: rc,
		Facing:   cfg.Facing(),
	})
}

func registerStaticsDir(group gin.IRoutes, dir, relativeGroup string) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("the specified directory %s does not exist", dir)
	}
	dir = filepath.ToSlash(filepath.Clean(dir))
	group.StaticFile(relativeGroup, filepath.Join(dir, "index.html"))
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			relativePath := path.Join(relativeGroup, strings.Replace(filepath.ToSlash(p), dir, "", 1))
			group.StaticFile(relativePath, p)
		}
		return nil
	})
}
