package nnload

// Package nnload wraps up our 'nn' interface layer, and has concrete references to our
// neural network implementation (tflite), so that you can just call one function to
// load a model, and not need to know about the implementation details.

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/cyclopcam/camdetect/pkg/session"
	"github.com/cyclopcam/camdetect/pkg/tfbackend"
	"github.com/cyclopcam/logs"
)

// DirResources finds model and labels files inside a directory
type DirResources struct {
	Root string
}

func (d *DirResources) resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty resource name: %w", fs.ErrNotExist)
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("resource '%v' is outside of %v", name, d.Root)
	}
	return filepath.Join(d.Root, clean), nil
}

// Locate returns the path of an existing regular file
func (d *DirResources) Locate(name string) (string, error) {
	full, err := d.resolve(name)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(full)
	if err != nil {
		return "", err
	}
	if st.IsDir() {
		return "", fmt.Errorf("'%v' is a directory", full)
	}
	return full, nil
}

func (d *DirResources) Open(name string) (io.ReadCloser, error) {
	full, err := d.Locate(name)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// OpenSession loads a model from the resources, using the tflite backend
func OpenSession(log logs.Log, resources session.Resources, config nn.ModelConfig) (*session.Session, error) {
	return session.New(log, config, resources, tfbackend.Loader(log))
}

func downloadFile(srcUrl, targetFile string) error {
	tempFile := targetFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return err
	}
	resp, err := http.DefaultClient.Get(srcUrl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, resp.Body)
	if err != nil {
		os.Remove(tempFile)
		return err
	}
	file.Close()
	return os.Rename(tempFile, targetFile)
}

// DownloadModel fetches the model and labels files of config from baseUrl, if they are
// not already inside d.Root. Returns immediately if the files are already downloaded.
func (d *DirResources) DownloadModel(log logs.Log, baseUrl string, config nn.ModelConfig) error {
	for _, name := range []string{config.ModelPath, config.LabelsPath} {
		diskPath, err := d.resolve(name)
		if err != nil {
			return err
		}
		if _, err := os.Stat(diskPath); errors.Is(err, fs.ErrNotExist) {
			networkUrl := strings.TrimSuffix(baseUrl, "/") + "/" + filepath.ToSlash(filepath.Clean(name))
			log.Infof("Downloading %v to %v", networkUrl, diskPath)
			if err := downloadFile(networkUrl, diskPath); err != nil {
				return fmt.Errorf("Download of %v failed: %w", networkUrl, err)
			}
		} else if err != nil {
			return err
		}
	}
	return nil
}
