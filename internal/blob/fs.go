// fs.go — backend локальной файловой системы.
// Запись: temp файл → fsync → atomic rename. Ссылка: file://<абсолютный путь>.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore — контейнер файлов в директории на диске.
type FSStore struct {
	dataDir string
}

// NewFSStore создаёт FSStore. Директория создаётся, если не существует.
func NewFSStore(dataDir string) (*FSStore, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("некорректная директория данных %s: %w", dataDir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", abs, err)
	}
	return &FSStore{dataDir: abs}, nil
}

// Upload записывает объект на диск. contentType не сохраняется:
// при чтении тип определяется по расширению.
func (fs *FSStore) Upload(ctx context.Context, key, _ string, r io.Reader, _ int64) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fullPath := fs.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания директории для %s: %w", key, err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return "file://" + filepath.ToSlash(fullPath), nil
}

// Open открывает файл по ссылке file://... или по ключу.
func (fs *FSStore) Open(_ context.Context, ref string) (*File, error) {
	key, err := fs.KeyFromRef(ref)
	if err != nil {
		return nil, err
	}

	fullPath := fs.fullPath(key)
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", key, err)
	}

	return &File{
		Name:        filepath.Base(fullPath),
		ContentType: ContentTypeByName(fullPath),
		Size:        info.Size(),
		Body:        f,
	}, nil
}

// KeyFromRef извлекает ключ из ссылки file://<dataDir>/<key>.
func (fs *FSStore) KeyFromRef(ref string) (string, error) {
	if strings.HasPrefix(ref, "file://") {
		p := strings.TrimPrefix(ref, "file://")
		root := filepath.ToSlash(fs.dataDir) + "/"
		if !strings.HasPrefix(p, root) {
			return "", fmt.Errorf("%w: ссылка %q вне директории данных", ErrInvalidKey, ref)
		}
		ref = strings.TrimPrefix(p, root)
	}
	return CleanKey(ref)
}

// fullPath возвращает абсолютный путь объекта на диске.
func (fs *FSStore) fullPath(key string) string {
	return filepath.Join(fs.dataDir, filepath.FromSlash(key))
}
