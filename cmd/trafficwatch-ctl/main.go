package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"trafficwatch/internal/auth"
	"trafficwatch/internal/config"
	"trafficwatch/internal/database"
	"trafficwatch/internal/registry"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s COMMAND [flags]

Commands:
    add-camera    Register a camera and print its generated API key
    list-cameras  List registered cameras
    issue-token   Issue a viewer token for the event endpoint

Run '%s COMMAND -h' for command flags.
`, os.Args[0], os.Args[0])
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "add-camera":
		addCamera(cfg, os.Args[2:])
	case "list-cameras":
		listCameras(cfg)
	case "issue-token":
		issueToken(cfg, os.Args[2:])
	default:
		usage()
	}
}

func openRegistry(cfg *config.Config) (*registry.Registry, *database.Database) {
	db, err := database.New(cfg.DBPath)
	if err != nil {
		fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		fatalf("failed to migrate database: %v", err)
	}
	reg, err := registry.New(db)
	if err != nil {
		fatalf("failed to load registry: %v", err)
	}
	return reg, db
}

func addCamera(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("add-camera", flag.ExitOnError)
	name := fs.String("name", "", "Camera display name (required)")
	location := fs.String("location", "", "Location string, optionally \"lat,lng\"")
	countingLine := fs.Float64("counting-line", 50, "Counting line position, percent of frame height")
	lanesSpec := fs.String("lanes", "", "Lane spec: maxX:class1,class2;maxX:classes (maxX as fraction of width)")
	fs.Parse(args)

	if *name == "" {
		fatalf("-name is required")
	}

	lanes, err := parseLanes(*lanesSpec)
	if err != nil {
		fatalf("invalid -lanes: %v", err)
	}

	reg, db := openRegistry(cfg)
	defer db.Close()

	apiKey := generateKey()
	cam := &registry.Camera{
		ID:           uuid.NewString(),
		Name:         *name,
		Location:     *location,
		CountingLine: *countingLine,
		Lanes:        lanes,
	}
	if err := reg.Add(cam, apiKey); err != nil {
		fatalf("failed to add camera: %v", err)
	}

	fmt.Printf("Camera registered\n  id:      %s\n  api key: %s\n", cam.ID, apiKey)
	fmt.Println("Store the API key now; only its hash is kept.")
}

func listCameras(cfg *config.Config) {
	reg, db := openRegistry(cfg)
	defer db.Close()

	for _, cam := range reg.List() {
		fmt.Printf("%s  %-20s  %-10s  line=%.0f%%  lanes=%d  %s\n",
			cam.ID, cam.Name, cam.Status, cam.CountingLine, len(cam.Lanes), cam.Location)
	}
}

func issueToken(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("issue-token", flag.ExitOnError)
	viewer := fs.String("viewer", "dashboard", "Viewer name embedded in the token")
	fs.Parse(args)

	if cfg.JWTSecret == "" {
		fatalf("TW_JWT_SECRET must be set to issue tokens the server will accept")
	}

	mgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry)
	token, expiresAt, err := mgr.GenerateToken(*viewer)
	if err != nil {
		fatalf("failed to generate token: %v", err)
	}
	fmt.Printf("%s\nexpires: %s (valid for %s)\n", token,
		expiresAt.Format("2006-01-02 15:04:05"), mgr.GetExpiry())
}

// parseLanes parses "0.5:car,motorcycle;1.0:car,truck,bus" into ordered lanes
func parseLanes(spec string) ([]registry.Lane, error) {
	if spec == "" {
		return nil, nil
	}

	var lanes []registry.Lane
	prev := 0.0
	for _, part := range strings.Split(spec, ";") {
		boundary, classes, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("lane %q missing ':'", part)
		}
		maxX, err := strconv.ParseFloat(boundary, 64)
		if err != nil {
			return nil, fmt.Errorf("lane boundary %q: %w", boundary, err)
		}
		if maxX <= prev || maxX > 1 {
			return nil, fmt.Errorf("lane boundaries must increase within (0,1], got %v", maxX)
		}
		prev = maxX

		allowed := strings.Split(classes, ",")
		for i := range allowed {
			allowed[i] = strings.TrimSpace(allowed[i])
		}
		lanes = append(lanes, registry.Lane{MaxX: maxX, AllowedClasses: allowed})
	}
	return lanes, nil
}

func generateKey() string {
	b := make([]byte, 24)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
