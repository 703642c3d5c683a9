// Command inspectd is a thin read-only HTTP inspection façade over a
// database handle: schema listing and per-page info, grounded on the
// teacher's pager/inspect.go diagnostic functions and exposed over
// github.com/labstack/echo/v4 the way the teacher's own HTTP tools do.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gopkg.in/yaml.v3"

	"github.com/SimonWaldherr/tinySQL/internal/storage/pager"
)

// config is loaded from a YAML file so the listen address and database
// path don't have to be passed as flags every time; flags still win
// when both are given.
type config struct {
	Addr string `yaml:"addr"`
	DB   string `yaml:"db"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	err = dec.Decode(&cfg)
	return cfg, err
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (addr, db)")
	addrFlag := flag.String("addr", "", "HTTP listen address, e.g. :8080")
	dbFlag := flag.String("db", "", "path to the database file")
	flag.Parse()

	var cfg config
	if *configPath != "" {
		var err error
		cfg, err = loadConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *dbFlag != "" {
		cfg.DB = *dbFlag
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.DB == "" {
		log.Fatal("no database path given (-db or config's \"db\" key)")
	}

	h, err := pager.OpenDB(pager.HandleConfig{Path: cfg.DB})
	if err != nil {
		log.Fatalf("opening %s: %v", cfg.DB, err)
	}
	defer h.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/stats", func(c echo.Context) error {
		stats, err := h.Stats()
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, stats)
	})

	e.GET("/tables", func(c echo.Context) error {
		tx, err := h.Begin(false)
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		defer tx.Rollback()
		names, err := h.Tables(tx)
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, names)
	})

	e.GET("/tables/:name/columns", func(c echo.Context) error {
		tx, err := h.Begin(false)
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		defer tx.Rollback()
		cols, err := h.Columns(tx, c.Param("name"))
		if err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		return c.JSON(http.StatusOK, cols)
	})

	e.GET("/check", func(c echo.Context) error {
		problems, err := h.Check()
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, problems)
	})

	e.GET("/pages/:id", func(c echo.Context) error {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			return c.String(http.StatusBadRequest, "bad page id")
		}
		info, err := h.InspectPage(pager.PageID(id))
		if err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		return c.JSON(http.StatusOK, info)
	})

	log.Printf("inspectd listening on %s, serving %s", cfg.Addr, cfg.DB)
	log.Fatal(e.Start(cfg.Addr))
}
