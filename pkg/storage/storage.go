// Package storage keeps captured stills on disk together with a small
// info.json index.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"qr-shutter-pi/pkg/types"
)

var (
	ErrNotFound    = errors.New("picture not found")
	ErrInvalidName = errors.New("invalid picture name")
)

type ImagesInfo struct {
	Count       int    `json:"count"`
	LatestImage string `json:"latestImage"`

	UpdateAt time.Time `json:"updateAt"`
}

type Storage struct {
	rootDir string

	mu sync.Mutex
}

func New(rootDir string) (*Storage, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("storage path can not be empty")
	}
	s := &Storage{rootDir: rootDir}
	if err := mkdirAll(s.ImageDir()); err != nil {
		return nil, err
	}
	if err := s.checkInitInfo(); err != nil {
		return nil, err
	}

	return s, nil
}

// SaveStill writes data under name. A name already taken within the same
// second gets a numeric suffix.
func (s *Storage) SaveStill(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkName(name); err != nil {
		return err
	}
	info, err := s.loadImageInfo()
	if err != nil {
		return err
	}
	name = s.freeName(name)
	if err = os.WriteFile(s.GetImagePath(name), data, DefaultFilePerm); err != nil {
		return err
	}

	info.Count++
	info.LatestImage = name

	return s.dumpImageInfo(info)
}

func (s *Storage) freeName(name string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		if _, err := os.Stat(s.GetImagePath(candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
}

func (s *Storage) Info() (*ImagesInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadImageInfo()
}

func (s *Storage) LatestImageName() (string, error) {
	info, err := s.Info()
	if err != nil {
		return "", err
	}

	return info.LatestImage, nil
}

func (s *Storage) LatestImage() (string, []byte, error) {
	name, err := s.LatestImageName()
	if err != nil {
		return "", nil, err
	}
	if name == "" {
		return "", nil, ErrNotFound
	}
	data, err := s.GetImage(name)

	return name, data, err
}

func (s *Storage) GetImage(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	file, err := os.ReadFile(s.GetImagePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	return file, nil
}

// ListImages returns the stills newest first.
func (s *Storage) ListImages() ([]types.File, error) {
	files, err := os.ReadDir(s.ImageDir())
	if err != nil {
		return nil, err
	}
	res := make([]types.File, 0, len(files))
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), DefaultImageExt) {
			continue
		}
		fi, err := file.Info()
		if err != nil {
			continue
		}
		res = append(res, types.File{
			Name:    file.Name(),
			Size:    humanize.Bytes(uint64(fi.Size())),
			ModTime: fi.ModTime(),
		})
	}
	slices.SortFunc(res, func(a, b types.File) int {
		return strings.Compare(b.Name, a.Name)
	})

	return res, nil
}

// Clear removes every still and resets the index.
func (s *Storage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.ImageDir()); err != nil {
		return err
	}
	if err := mkdirAll(s.ImageDir()); err != nil {
		return err
	}

	return s.dumpImageInfo(&ImagesInfo{})
}

func (s *Storage) ImageDir() string {
	return path.Join(s.rootDir, DefaultImagesDir)
}

func (s *Storage) GetImagePath(name string) string {
	return path.Join(s.ImageDir(), name)
}

func (s *Storage) getImageInfoPath() string {
	return path.Join(s.rootDir, DefaultInfoFile)
}

func (s *Storage) checkInitInfo() error {
	_, err := os.Stat(s.getImageInfoPath())
	if os.IsNotExist(err) {
		return s.dumpImageInfo(&ImagesInfo{})
	}

	return err
}

func (s *Storage) loadImageInfo() (*ImagesInfo, error) {
	data, err := os.ReadFile(s.getImageInfoPath())
	if err != nil {
		return nil, fmt.Errorf("read image info err: %w", err)
	}
	info := &ImagesInfo{}
	if err = json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("unmarshal image info err: %w", err)
	}

	return info, nil
}

func (s *Storage) dumpImageInfo(info *ImagesInfo) error {
	info.UpdateAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return os.WriteFile(s.getImageInfoPath(), data, DefaultFilePerm)
}

func checkName(name string) error {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	return nil
}

func mkdirAll(dirs ...string) error {
	for _, d := range dirs {
		err := os.MkdirAll(d, DefaultDirPerm)
		if err != nil {
			return err
		}
	}
	return nil
}
