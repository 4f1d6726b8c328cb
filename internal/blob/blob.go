// Пакет blob — контейнер файлов GTFS-Flex датасетов.
// Два backend'а: S3-совместимое хранилище (minio-go) и локальная
// файловая система. Оба возвращают при загрузке ссылку file_upload_path
// и умеют открыть файл по такой ссылке.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
)

// Ошибки слоя хранилища.
var (
	// ErrNotFound — объект отсутствует в контейнере.
	ErrNotFound = errors.New("объект не найден")
	// ErrInvalidKey — путь выходит за пределы контейнера или пуст.
	ErrInvalidKey = errors.New("некорректный путь объекта")
)

// File — открытый для чтения объект контейнера.
// Вызывающий код обязан закрыть Body.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// Store — контейнер файлов.
type Store interface {
	// Upload сохраняет объект по ключу и возвращает ссылку на него.
	// size = -1, если размер заранее неизвестен.
	Upload(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error)
	// Open открывает объект по ссылке, полученной из Upload, или по ключу.
	Open(ctx context.Context, ref string) (*File, error)
}

// CleanKey нормализует ключ объекта: декодирует percent-encoding,
// убирает ведущий слэш и отвергает выход за корень контейнера.
func CleanKey(key string) (string, error) {
	if strings.Contains(key, "%") {
		if decoded, err := url.PathUnescape(key); err == nil {
			key = decoded
		}
	}
	key = strings.TrimLeft(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", fmt.Errorf("%w: пустой путь", ErrInvalidKey)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return path.Clean(key), nil
}

// ContentTypeByName определяет MIME-тип по расширению имени файла.
func ContentTypeByName(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == ".zip" {
		return "application/zip"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// stripScheme отрезает "scheme://host" от ссылки и возвращает путь.
// Для ссылок без схемы возвращает исходную строку.
func stripScheme(ref string) (string, bool) {
	i := strings.Index(ref, "://")
	if i < 0 {
		return ref, false
	}
	rest := ref[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return rest[j:], true
	}
	return "", true
}
