package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"
	"github.com/bmharper/cimg/v2"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/camdetect/pkg/frame"
	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/cyclopcam/camdetect/pkg/nnload"
	"github.com/cyclopcam/camdetect/pkg/overlay"
	"github.com/cyclopcam/camdetect/pkg/tfbackend"
	"github.com/cyclopcam/camdetect/server"
	"github.com/cyclopcam/camdetect/server/configdb"
	"github.com/cyclopcam/logs"
)

func main() {
	// This is purely for documentation of the cmd-line args
	nominalDefaultDB := "$HOME/camdetect/config.sqlite"
	nominalDefaultModels := "$HOME/camdetect/models"

	parser := argparse.NewParser("camdetect", "Object detection on camera frames with TensorFlow Lite models")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration database file", Default: nominalDefaultDB})
	modelsDir := parser.String("m", "models", &argparse.Options{Help: "Directory holding model and labels files", Default: nominalDefaultModels})

	serveCmd := parser.NewCommand("serve", "Run the HTTP detection server")
	port := serveCmd.String("p", "port", &argparse.Options{Help: "HTTP listen address", Default: ":8080"})
	downloadUrl := serveCmd.String("", "download", &argparse.Options{Help: "Download missing files of the active model from this base URL", Default: ""})

	detectCmd := parser.NewCommand("detect", "Run detection on an image file, and print the result as JSON")
	inputImage := detectCmd.String("i", "image", &argparse.Options{Help: "Input image (jpeg or png)", Required: true})
	modelName := detectCmd.String("", "model", &argparse.Options{Help: "Catalog model to use, instead of the active model", Default: ""})
	modelConfigFile := detectCmd.String("", "modelconfig", &argparse.Options{Help: "Model config JSON file to use, instead of the catalog", Default: ""})
	minConf := detectCmd.Float("", "minconf", &argparse.Options{Help: "Override the model's minimum confidence", Default: -1.0})
	overlayFile := detectCmd.String("o", "overlay", &argparse.Options{Help: "Write a PNG with the detections drawn on it", Default: ""})

	modelsCmd := parser.NewCommand("models", "List and manage the model catalog")
	selectModel := modelsCmd.String("s", "select", &argparse.Options{Help: "Make this the active model", Default: ""})
	addModel := modelsCmd.String("a", "add", &argparse.Options{Help: "Add the model described by this JSON file", Default: ""})
	removeModel := modelsCmd.String("r", "remove", &argparse.Options{Help: "Remove this model from the catalog", Default: ""})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/var/lib"
	}
	if *configFile == nominalDefaultDB {
		*configFile = filepath.Join(home, "camdetect", "config.sqlite")
	}
	if *modelsDir == nominalDefaultModels {
		*modelsDir = filepath.Join(home, "camdetect", "models")
	}
	resources := &nnload.DirResources{Root: *modelsDir}

	configDB, err := configdb.NewConfigDB(logger, *configFile)
	if err != nil {
		logger.Errorf("Failed to open config database: %v", err)
		os.Exit(1)
	}

	switch {
	case serveCmd.Happened():
		err = serve(logger, configDB, resources, *port, *downloadUrl)
	case detectCmd.Happened():
		err = detect(logger, configDB, resources, detectOptions{
			image:       *inputImage,
			model:       *modelName,
			modelConfig: *modelConfigFile,
			minConf:     *minConf,
			overlay:     *overlayFile,
		})
		configDB.Close()
	case modelsCmd.Happened():
		err = models(logger, configDB, *selectModel, *addModel, *removeModel)
		configDB.Close()
	}
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func serve(logger logs.Log, configDB *configdb.ConfigDB, resources *nnload.DirResources, port, downloadUrl string) error {
	if downloadUrl != "" {
		active, err := configDB.ActiveModel()
		if err != nil {
			return err
		}
		if err := resources.DownloadModel(logger, downloadUrl, active); err != nil {
			return err
		}
	}

	srv, err := server.NewServer(logger, configDB, resources, tfbackend.Loader(logger))
	if err != nil {
		return err
	}
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	err = srv.ListenHTTP(port)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type detectOptions struct {
	image       string
	model       string
	modelConfig string
	minConf     float64
	overlay     string
}

func detect(logger logs.Log, configDB *configdb.ConfigDB, resources *nnload.DirResources, opt detectOptions) error {
	var cfg nn.ModelConfig
	if opt.modelConfig != "" {
		c, err := nn.LoadModelConfig(opt.modelConfig)
		if err != nil {
			return err
		}
		cfg = *c
	} else if opt.model != "" {
		m, err := configDB.GetModel(opt.model)
		if err != nil {
			return err
		}
		cfg = m.ToConfig()
	} else {
		c, err := configDB.ActiveModel()
		if err != nil {
			return err
		}
		cfg = c
	}
	if opt.minConf >= 0 {
		cfg.MinConfidence = float32(opt.minConf)
	}

	img, err := cimg.ReadFile(opt.image)
	if err != nil {
		return fmt.Errorf("Failed to read image %v: %w", opt.image, err)
	}
	f, err := frame.FromCImage(img)
	if err != nil {
		return err
	}

	sess, err := nnload.OpenSession(logger, resources, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	result := sess.RunOnFrame(*f)
	if result == nil {
		// Nothing found, or the frame failed. Either way, the output is an empty result.
		result = &nn.InferenceResult{Detections: []nn.Detection{}}
	}
	logger.Infof("%v: %v detections (%v)", opt.image, len(result.Detections), sess.Stats())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}

	if opt.overlay != "" {
		if err := overlay.DrawToFile(f.ToRGBA(), result.Detections, overlay.DefaultStyle(), opt.overlay); err != nil {
			return fmt.Errorf("Failed to write overlay %v: %w", opt.overlay, err)
		}
	}
	return nil
}

func models(logger logs.Log, configDB *configdb.ConfigDB, selectName, addFile, removeName string) error {
	if addFile != "" {
		cfg, err := nn.LoadModelConfig(addFile)
		if err != nil {
			return err
		}
		if err := configDB.AddModel(*cfg); err != nil {
			return err
		}
		logger.Infof("Added model '%v'", cfg.Name)
	}
	if removeName != "" {
		if err := configDB.RemoveModel(removeName); err != nil {
			return err
		}
		logger.Infof("Removed model '%v'", removeName)
	}
	if selectName != "" {
		if err := configDB.SetActiveModel(selectName); err != nil {
			return err
		}
	}

	all, err := configDB.Models()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return configdb.ErrEmptyCatalog
	}
	active, err := configDB.ActiveModel()
	if err != nil {
		return err
	}
	for _, m := range all {
		marker := " "
		if m.Name == active.Name {
			marker = "*"
		}
		fmt.Printf("%v %-40v %4vx%-4v min %.2f  %v  %v\n", marker, m.Name, m.InputDimension, m.InputDimension, m.MinConfidence, m.ModelPath, m.LabelsPath)
	}
	return nil
}
