package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/miguelbaldi/krust/cmd"
	"github.com/miguelbaldi/krust/internal/application"
	"github.com/miguelbaldi/krust/internal/infrastructure/cache"
	"github.com/miguelbaldi/krust/internal/infrastructure/kafka"
	"github.com/miguelbaldi/krust/internal/infrastructure/repository"
	"github.com/miguelbaldi/krust/internal/registry"
	"github.com/miguelbaldi/krust/internal/utils"
)

func findConfigPath() string {
	names := []string{"config.yml", "config.yaml"}
	candidates := []string{}

	for _, n := range names {
		candidates = append(candidates, "./"+n)
	}

	home, _ := os.UserHomeDir()
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			for _, n := range names {
				candidates = append(candidates, filepath.Join(appdata, "krust", n))
			}
		}
		if pd := os.Getenv("PROGRAMDATA"); pd != "" {
			for _, n := range names {
				candidates = append(candidates, filepath.Join(pd, "krust", n))
			}
		}
		if home != "" {
			for _, n := range names {
				candidates = append(candidates, filepath.Join(home, "krust", n))
			}
		}
	} else {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			for _, n := range names {
				candidates = append(candidates, filepath.Join(xdg, "krust", n))
			}
		}
		if home != "" {
			for _, n := range names {
				candidates = append(candidates, filepath.Join(home, ".config", "krust", n))
				candidates = append(candidates, filepath.Join(home, ".krust", n))
			}
		}
		for _, n := range names {
			candidates = append(candidates, filepath.Join("/etc", "krust", n))
		}
	}

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	createPath := "./config.yml"
	initial := []byte("# krust configuration\n")
	if err := os.WriteFile(createPath, initial, 0644); err == nil {
		return createPath
	}

	if len(candidates) > 0 {
		return candidates[0]
	}
	return createPath
}

func main() {
	godotenv.Load()
	utils.InitLogger()

	configPath := os.Getenv("KRUST_CONFIG")
	if configPath == "" {
		configPath = findConfigPath()
	}

	repo := repository.NewProfileRepository(configPath)
	defer repo.Close()

	if err := repo.LoadFromFile(); err != nil {
		utils.Logger.Warn("failed to load config file", "err", err)
	} else {
		utils.Logger.Info("configuration loaded", "path", configPath)
	}
	if err := repo.Watch(); err != nil {
		utils.Logger.Error("failed to start config watcher", "err", err)
		panic(err)
	}

	engine := repo.Engine()
	dataDir := os.Getenv("KRUST_DATA_DIR")
	if dataDir != "" {
		engine.DataDir = dataDir
	}

	store, err := cache.Open(engine.DataDir)
	if err != nil {
		utils.Logger.Fatal("failed to open message cache", "dir", engine.DataDir, "err", err)
	}
	defer store.Close()
	utils.Logger.Info("message cache ready", "path", store.Path())

	factory := kafka.NewClientFactory(engine)
	sessions := registry.New()

	profileService := application.NewProfileService(repo, factory)
	sessionService := application.NewSessionService(repo, store, factory, sessions, engine)
	utils.Logger.Info("application layer initialized")

	// Stop sessions at a batch boundary on SIGINT/SIGTERM so the cache
	// stays consistent.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		utils.Logger.Info("shutting down, stopping sessions")
		sessionService.Shutdown()
		_ = store.Close()
		os.Exit(0)
	}()

	cmd.StartWeb(profileService, sessionService)
}
