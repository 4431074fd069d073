package daemon

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smarteye/smarteye/pkg/calibration"
	"github.com/smarteye/smarteye/pkg/config"
	"github.com/smarteye/smarteye/pkg/events"
	"github.com/smarteye/smarteye/pkg/measure"
	"github.com/smarteye/smarteye/pkg/recipe"
	"github.com/smarteye/smarteye/pkg/workbench"
)

const shutdownTimeout = 5 * time.Second

// server holds everything the HTTP handlers act on.
type server struct {
	conf    config.Config
	ctrl    *workbench.Controller
	hub     *events.EventHub
	catalog *recipe.Catalog
	sched   *Scheduler
	// sim is nil when measurements come from an instrument.
	sim *measure.Simulator
}

func settingsFrom(conf config.Config) workbench.Settings {
	return workbench.Settings{
		InterStepPause: conf.InterStepPause(),
		HaltOnFail:     conf.HaltOnFail(),
		FixturePoints:  conf.FixturePoints(),
	}
}

// newProvider returns the measurement source selected by conf, guarded by
// retries and a circuit breaker. The simulator is returned too so reloads
// can retune it.
func newProvider(conf config.Config) (measure.Provider, *measure.Simulator) {
	if endpoint := conf.InstrumentEndpoint(); endpoint != "" {
		logrus.WithField("endpoint", endpoint).Info("using measurement instrument")
		inst := measure.NewInstrument(endpoint, measure.DefaultInstrumentTimeout)
		return measure.NewGuarded(inst, measure.NewCircuitBreaker("instrument"), measure.DefaultGuardOptions), nil
	}

	logrus.Info("using simulated measurements")
	sim := measure.NewSimulator(measure.SimulatorOptions{
		PassRate: map[calibration.Workflow]float64{
			calibration.WorkflowInstall: conf.InstallPassRate(),
			calibration.WorkflowODS:     conf.ODSPassRate(),
		},
		MinDelay: conf.MinMeasureDelay(),
		MaxDelay: conf.MaxMeasureDelay(),
	})
	return measure.NewGuarded(sim, measure.NewCircuitBreaker("simulator"), measure.DefaultGuardOptions), sim
}

func newServer(conf config.Config, provider measure.Provider, sim *measure.Simulator) (*server, error) {
	catalog, err := recipe.NewCatalog(conf.RecipeDir())
	if err != nil {
		return nil, err
	}

	hub := events.NewEventHub()
	s := &server{
		conf:    conf,
		ctrl:    workbench.New(provider, catalog, hub, settingsFrom(conf)),
		hub:     hub,
		catalog: catalog,
		sim:     sim,
	}
	s.sched = NewScheduler(s.verify, s.verifyPreCheck, s.verifyUpcoming, s.verifyFailed)
	if err := s.applySchedule(conf.VerifyCron()); err != nil {
		logrus.WithError(err).Error("failed to schedule verification run")
	}
	return s, nil
}

func (s *server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logrus.StandardLogger()))

	router.GET("/version", getVersion)
	router.GET("/config", s.getConfig)
	router.PUT("/halt-on-fail", s.setHaltOnFail)
	router.PUT("/inter-step-pause", s.setInterStepPause)
	router.GET("/workbench", s.getWorkbench)
	router.PUT("/page", s.setPage)
	router.GET("/schedule", s.getSchedule)
	router.PUT("/schedule", s.setSchedule)
	router.PUT("/schedule/postpone", s.postponeSchedule)
	router.POST("/schedule/skip", s.skipSchedule)
	router.GET("/events", s.streamEvents)

	wf := router.Group("/:workflow", s.resolveWorkbench)
	wf.GET("/steps", s.getSteps)
	wf.POST("/steps/:index/run", s.runStep)
	wf.POST("/run-all", s.runAll)
	wf.POST("/cancel", s.cancelRun)
	wf.POST("/reset", s.resetSteps)
	wf.GET("/params/:step", s.getParams)
	wf.PUT("/params/:step", s.setParam)
	wf.POST("/save", s.saveRecipe)
	wf.GET("/recipes", s.getRecipes)
	wf.PUT("/recipe", s.selectRecipe)
	wf.PUT("/point", s.switchPoint)
	wf.GET("/compare/:step", s.compare)
	wf.POST("/mark-pass", s.markPass)
	wf.POST("/save-sample", s.saveSample)

	return router
}

// reload re-reads the config file and applies what can change at runtime.
// Switching between simulator and instrument needs a restart.
func (s *server) reload() error {
	if err := s.conf.Load(); err != nil {
		return err
	}

	if err := s.ctrl.Apply(settingsFrom(s.conf)); err != nil {
		logrus.WithError(err).Warn("settings only partially applied")
	}
	if s.sim != nil {
		s.sim.SetPassRate(calibration.WorkflowInstall, s.conf.InstallPassRate())
		s.sim.SetPassRate(calibration.WorkflowODS, s.conf.ODSPassRate())
		s.sim.SetDelay(s.conf.MinMeasureDelay(), s.conf.MaxMeasureDelay())
	} else if s.conf.InstrumentEndpoint() == "" {
		logrus.Warn("instrument endpoint removed, restart the daemon to use simulated measurements")
	}
	if err := s.catalog.Reload(s.conf.RecipeDir()); err != nil {
		logrus.WithError(err).Error("failed to reload standard recipes, keeping the previous set")
	}
	return s.applySchedule(s.conf.VerifyCron())
}

// shutdown stops scheduled work, ends run-alls and closes event streams.
func (s *server) shutdown(ctx context.Context) error {
	s.sched.Stop()
	err := s.ctrl.Shutdown(ctx)
	s.hub.Close()
	return err
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	gin.SetMode(gin.ReleaseMode)

	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	provider, sim := newProvider(conf)
	s, err := newServer(conf, provider, sim)
	if err != nil {
		logrus.Fatalf("failed to load standard recipes: %v", err)
	}

	srv := &http.Server{
		Handler: s.routes(),
	}

	// A socket left behind by a previous run would make Listen fail.
	if fi, err := os.Stat(unixSocketPath); err == nil && fi.Mode().Type() == fs.ModeSocket {
		_ = os.Remove(unixSocketPath)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Handle common process-killing signals, so we can gracefully shut down:
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Serve HTTP on unix socket
	g.Go(func() error {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Receive SIGHUP to reload config
	g.Go(func() error {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		defer signal.Stop(sigc)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigc:
				if err := s.reload(); err != nil {
					logrus.Errorf("failed to reload config: %v", err)
					continue
				}
				logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		logrus.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.shutdown(shutdownCtx); err != nil {
			logrus.Errorf("failed to stop calibration runs: %v", err)
		}

		logrus.Info("shutting down http server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("failed to shutdown http server: %v", err)
		}
		return nil
	})

	err = g.Wait()
	logrus.Info("exiting")
	return err
}
