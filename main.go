package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/supersonic-app/lyricsync/backend"
	"github.com/supersonic-app/lyricsync/backend/ipc"
	"github.com/supersonic-app/lyricsync/res"
	"github.com/supersonic-app/lyricsync/ui"
)

func main() {
	flag.Parse()
	if *backend.FlagVersion {
		fmt.Println(res.AppVersion)
		return
	}
	if *backend.FlagHelp {
		flag.PrintDefaults()
		return
	}
	if backend.HaveCommandLineOptions() {
		if err := forwardCommandLineOptions(); err != nil {
			log.Fatalf("failed to send command to running instance: %v", err)
		}
		return
	}

	myApp, err := backend.StartupApp(res.AppName, res.AppVersionTag, res.LatestReleaseURL)
	if err != nil {
		if errors.Is(err, backend.ErrAnotherInstance) {
			log.Println(err.Error())
			return
		}
		log.Fatalf("fatal startup error: %v", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	myApp.OnExit = stop

	renderer := ui.NewConsoleRenderer(os.Stdout)
	renderer.ShowTranslation = myApp.Config.Lyrics.ShowTranslation
	renderer.ShowTransliteration = myApp.Config.Lyrics.ShowTransliteration
	renderer.Attach(myApp.LyricsManager)
	myApp.Start()

	<-ctx.Done()

	log.Println("Running shutdown tasks...")
	myApp.Shutdown()
}

// forwardCommandLineOptions sends the given command line options
// to an already running instance.
func forwardCommandLineOptions() error {
	cli, err := ipc.Connect()
	if err != nil {
		return fmt.Errorf("%s is not running: %w", res.DisplayName, err)
	}
	if *backend.FlagPlayPause {
		if err := cli.PlayPause(); err != nil {
			return err
		}
	}
	if *backend.FlagPrevious {
		if err := cli.Previous(); err != nil {
			return err
		}
	}
	if *backend.FlagNext {
		if err := cli.Next(); err != nil {
			return err
		}
	}
	if backend.SeekToCLIArg >= 0 {
		if err := cli.SeekTo(backend.SeekToCLIArg); err != nil {
			return err
		}
	}
	if *backend.FlagReloadLyrics {
		if err := cli.ReloadLyrics(); err != nil {
			return err
		}
	}
	if *backend.FlagNowPlaying {
		np, err := cli.NowPlaying()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(np); err != nil {
			return err
		}
	}
	if *backend.FlagQuit {
		return cli.Quit()
	}
	return nil
}
