package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/20after4/configdir"
	"github.com/fsnotify/fsnotify"
	"github.com/metafates/gache"
	"github.com/spf13/afero"
	"github.com/supersonic-app/lyricsync/backend/ipc"
	"github.com/supersonic-app/lyricsync/backend/lyrics"
	"github.com/supersonic-app/lyricsync/backend/mediasession"
	"github.com/supersonic-app/lyricsync/backend/mediasession/mpris"
	"github.com/supersonic-app/lyricsync/backend/util"
)

const (
	configFile       = "config.toml"
	portableDir      = "lyricsync_portable"
	lyricCacheDir    = "lyrics"
	versionCacheFile = "version.json"

	commandTimeout = 3 * time.Second
)

var (
	ErrAnotherInstance = errors.New("another instance is running")
	ErrNoSession       = errors.New("no media session is active")
)

type App struct {
	Config        *Config
	Tracker       *mediasession.Tracker
	Clock         *PlaybackClock
	LyricsManager *LyricsManager
	LyricCache    *LyricCache
	UpdateChecker *UpdateChecker

	// UI callbacks to be set in main
	OnExit func()

	appName       string
	appVersionTag string
	configDir     string
	cacheDir      string
	fs            afero.Fs

	provider  *mpris.Provider
	ipcServer ipcServer

	isFirstLaunch bool // set by config file reader
	bgrndCtx      context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	cfgLock        sync.Mutex
	lastWrittenCfg Config
}

type ipcServer interface {
	Close() error
}

func StartupApp(appName, appVersionTag, latestReleaseURL string) (*App, error) {
	var confDir, cacheDir string
	if p := checkPortablePath(); p != "" {
		log.Printf("Running in portable mode from %s", p)
		confDir = path.Join(p, "config")
		cacheDir = path.Join(p, "cache")
	} else {
		confDir = configdir.LocalConfig(appName)
		cacheDir = configdir.LocalCache(appName)
	}
	// ensure config and cache dirs exist
	configdir.MakePath(confDir)
	configdir.MakePath(cacheDir)

	log.Printf("Starting %s...", appName)
	log.Printf("Using config dir: %s", confDir)
	log.Printf("Using cache dir: %s", cacheDir)

	a := &App{
		appName:       appName,
		appVersionTag: appVersionTag,
		configDir:     confDir,
		cacheDir:      cacheDir,
		fs:            afero.NewOsFs(),
	}
	a.readConfig()

	if !a.Config.Application.AllowMultiInstance {
		if _, err := ipc.Connect(); err == nil {
			log.Println("Another instance is running")
			return nil, ErrAnotherInstance
		}
	}

	a.bgrndCtx, a.cancel = context.WithCancel(context.Background())

	provider, err := mpris.NewProvider(a.bgrndCtx)
	if err != nil {
		a.cancel()
		return nil, fmt.Errorf("failed to connect to media sessions: %w", err)
	}
	a.provider = provider

	a.Tracker = mediasession.NewTracker(provider, mediasession.AllowList(a.Config.Sessions.AllowedSourceIDs))
	a.Clock = NewPlaybackClock(a.Tracker, &a.Config.Clock)

	a.LyricCache = NewLyricCache(a.fs, filepath.Join(cacheDir, lyricCacheDir),
		time.Duration(clamp(a.Config.Lyrics.SearchCacheLifetimeHours, 1, 24*90))*time.Hour)
	a.Config.Application.MaxLyricCacheSizeMB = clamp(a.Config.Application.MaxLyricCacheSizeMB, 1, 500)
	a.LyricCache.SetMaxSizeBytes(int64(a.Config.Application.MaxLyricCacheSizeMB) * 1_048_576)

	var client LyricProviderClient = disabledLyricClient{}
	if a.Config.Application.EnableLrcLib {
		client = NewLrcLibFetcher(a.Config.Application.LrcLibBaseURL, appName+"/"+appVersionTag, a.LyricCache)
	}
	a.LyricsManager = NewLyricsManager(a.Tracker, a.Clock, client)

	if a.Config.Application.EnableUpdateCheck {
		versionCache := gache.New[string](&gache.Options{
			Path:       filepath.Join(cacheDir, versionCacheFile),
			Lifetime:   12 * time.Hour,
			FileSystem: gacheFs{a.fs},
		})
		a.UpdateChecker = NewUpdateChecker(latestReleaseURL, &a.Config.Application.LastCheckedVersion, versionCache)
		a.UpdateChecker.OnUpdatedVersionFound = func() {
			log.Printf("A new version is available: %s (%s)",
				a.UpdateChecker.VersionTagFound(), a.UpdateChecker.LatestReleaseURL())
		}
	}

	return a, nil
}

// Start begins following media sessions. Event handlers should be
// registered on the managers before calling Start.
func (a *App) Start() {
	a.startConfigWriter(a.bgrndCtx)
	a.Clock.Start(a.bgrndCtx)
	a.LyricsManager.Start()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Tracker.Run(a.bgrndCtx)
	}()
	a.startCachePruner(a.bgrndCtx)
	a.startConfigWatcher(a.bgrndCtx)
	if a.UpdateChecker != nil {
		a.UpdateChecker.Start(a.bgrndCtx, 24*time.Hour)
	}

	if listener, err := ipc.Listen(); err == nil {
		server := ipc.NewServer(appTransport{a.Tracker}, a, a)
		a.ipcServer = server
		go server.Serve(listener)
	} else {
		log.Printf("failed to start IPC server: %v", err)
	}
}

func checkPortablePath() string {
	if p, err := os.Executable(); err == nil {
		pdirPath := path.Join(filepath.Dir(p), portableDir)
		if s, err := os.Stat(pdirPath); err == nil && s.IsDir() {
			return pdirPath
		}
	}
	return ""
}

func (a *App) readConfig() {
	cfgPath := a.configFilePath()
	var cfgExists bool
	if _, err := os.Stat(cfgPath); err == nil {
		cfgExists = true
	}
	a.isFirstLaunch = !cfgExists
	cfg, err := ReadConfigFile(cfgPath, a.appVersionTag)
	if err != nil {
		if cfgExists {
			log.Printf("Error reading app config file: %v", err)
		}
		cfg = DefaultConfig(a.appVersionTag)
		if cfgExists {
			backupCfgName := fmt.Sprintf("%s.bak", configFile)
			log.Printf("Config file may be malformed: copying to %s", backupCfgName)
			_ = util.CopyFile(a.fs, cfgPath, path.Join(a.configDir, backupCfgName))
		}
	}
	a.Config = cfg
	a.Config.Application.LastLaunchedVersion = a.appVersionTag
	if a.isFirstLaunch {
		// give the user a file to edit
		a.SaveConfigFile()
	}
}

// periodically save config file so abnormal exit won't lose settings
func (a *App) startConfigWriter(ctx context.Context) {
	tick := time.NewTicker(2 * time.Minute)
	go func() {
		for {
			select {
			case <-ctx.Done():
				tick.Stop()
				return
			case <-tick.C:
				a.cfgLock.Lock()
				if !reflect.DeepEqual(&a.lastWrittenCfg, a.Config) {
					if err := a.Config.WriteConfigFile(a.configFilePath()); err == nil {
						a.lastWrittenCfg = *a.Config
					}
				}
				a.cfgLock.Unlock()
			}
		}
	}()
}

// startConfigWatcher applies edits to the sessions section of the
// config file while the app is running.
func (a *App) startConfigWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("failed to watch config file: %v", err)
		return
	}
	// watch the dir, since editors commonly replace the file on save
	if err := watcher.Add(a.configDir); err != nil {
		log.Printf("failed to watch config dir: %v", err)
		watcher.Close()
		return
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) == configFile && ev.Has(fsnotify.Write|fsnotify.Create) {
					a.reloadSessionsConfig()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config watcher error: %v", err)
			}
		}
	}()
}

func (a *App) reloadSessionsConfig() {
	cfg, err := ReadConfigFile(a.configFilePath(), a.appVersionTag)
	if err != nil {
		return // possibly a partial write; wait for the next event
	}
	a.cfgLock.Lock()
	changed := !slices.Equal(cfg.Sessions.AllowedSourceIDs, a.Config.Sessions.AllowedSourceIDs)
	if changed {
		a.Config.Sessions = cfg.Sessions
	}
	a.cfgLock.Unlock()
	if changed {
		log.Printf("Allowed media sources changed: %v", cfg.Sessions.AllowedSourceIDs)
		a.Tracker.SetAllowList(mediasession.AllowList(cfg.Sessions.AllowedSourceIDs))
		a.Tracker.RequestRefresh()
	}
}

func (a *App) startCachePruner(ctx context.Context) {
	go func() {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				a.LyricCache.Prune()
			}
		}
	}()
}

// ReloadLyrics implements ipc.LyricsHandler.
func (a *App) ReloadLyrics() {
	a.LyricsManager.Reload()
}

// NowPlaying implements ipc.LyricsHandler.
func (a *App) NowPlaying() (*ipc.NowPlaying, bool) {
	ctx, cancel := context.WithTimeout(a.bgrndCtx, commandTimeout)
	defer cancel()
	info := a.Tracker.MediaInfo(ctx)
	if info == nil {
		return nil, false
	}
	np := &ipc.NowPlaying{
		SourceID:    a.Tracker.SourceID(),
		Title:       info.Title,
		Artist:      info.Artist,
		Album:       info.AlbumTitle,
		Playing:     a.Clock.IsPlaying(),
		PositionSec: a.Clock.Position(),
		DurationSec: a.Clock.Duration(),
	}
	if line := a.LyricsManager.CurrentLine(); line != nil {
		np.Line = line.Line.Text
		np.Translation = line.Translation
	}
	return np, true
}

// Quit implements ipc.WindowHandler.
func (a *App) Quit() {
	if a.OnExit != nil {
		a.OnExit()
	}
}

func (a *App) Shutdown() {
	if a.ipcServer != nil {
		a.ipcServer.Close()
		ipc.DestroyConn()
	}
	a.LyricsManager.Shutdown()
	a.cancel()
	a.wg.Wait() // tracker releases its subscriptions before the bus closes
	a.provider.Close()
	a.LyricCache.Prune()

	a.cfgLock.Lock()
	a.Config.WriteConfigFile(a.configFilePath())
	a.cfgLock.Unlock()
}

func (a *App) SaveConfigFile() {
	a.cfgLock.Lock()
	defer a.cfgLock.Unlock()
	a.Config.WriteConfigFile(a.configFilePath())
	a.lastWrittenCfg = *a.Config
}

func (a *App) configFilePath() string {
	return path.Join(a.configDir, configFile)
}

// appTransport adapts the tracker's session commands to ipc.TransportHandler.
type appTransport struct {
	t *mediasession.Tracker
}

func (at appTransport) PlayPause() error {
	return at.do(at.t.PlayPause)
}

func (at appTransport) Next() error {
	return at.do(at.t.Next)
}

func (at appTransport) Previous() error {
	return at.do(at.t.Previous)
}

func (at appTransport) SeekTo(ms int64) error {
	return at.do(func(ctx context.Context) bool { return at.t.SetPosition(ctx, ms) })
}

func (at appTransport) do(cmd func(context.Context) bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if !cmd(ctx) {
		return ErrNoSession
	}
	return nil
}

// disabledLyricClient is used when every lyric source is turned off.
type disabledLyricClient struct{}

func (disabledLyricClient) Search(context.Context, TrackQuery) (*TrackMetadata, error) {
	return nil, ErrLyricsNotFound
}

func (disabledLyricClient) Fetch(context.Context, string) (*lyrics.Payload, error) {
	return nil, ErrLyricsNotFound
}

func clamp(i, min, max int) int {
	if i < min {
		i = min
	} else if i > max {
		i = max
	}
	return i
}
