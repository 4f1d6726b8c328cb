// Пакет geo — разбор и проверка полигона покрытия GTFS-Flex датасета.
// На входе и выходе API полигон передаётся как GeoJSON FeatureCollection
// с одной Feature; в БД хранится одно (внешнее) кольцо в SRID 4326.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ErrInvalidPolygon — полигон не прошёл структурную проверку.
var ErrInvalidPolygon = errors.New("некорректный полигон")

// minRingPoints — минимум точек замкнутого кольца (треугольник + замыкающая точка).
const minRingPoints = 4

// ParseFeatureCollection разбирает GeoJSON FeatureCollection и возвращает
// внешнее кольцо полигона первой Feature. Кольцо проверяется ValidateRing.
func ParseFeatureCollection(raw []byte) (orb.Ring, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: ожидается GeoJSON FeatureCollection: %v", ErrInvalidPolygon, err)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("%w: FeatureCollection не содержит Feature", ErrInvalidPolygon)
	}

	feature := fc.Features[0]
	if feature == nil || feature.Geometry == nil {
		return nil, fmt.Errorf("%w: у Feature отсутствует geometry", ErrInvalidPolygon)
	}

	return ringFromGeometry(feature.Geometry)
}

// ParseGeometry разбирает GeoJSON geometry (результат ST_AsGeoJSON)
// и возвращает внешнее кольцо полигона.
func ParseGeometry(raw []byte) (orb.Ring, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
	}
	return ringFromGeometry(g.Geometry())
}

// ringFromGeometry извлекает первое кольцо из геометрии типа Polygon.
func ringFromGeometry(g orb.Geometry) (orb.Ring, error) {
	poly, ok := g.(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("%w: ожидается geometry типа Polygon, получен %s", ErrInvalidPolygon, g.GeoJSONType())
	}
	if len(poly) == 0 {
		return nil, fmt.Errorf("%w: Polygon без колец", ErrInvalidPolygon)
	}

	ring := poly[0]
	if err := ValidateRing(ring); err != nil {
		return nil, err
	}
	return ring, nil
}

// ValidateRing проверяет, что кольцо образует простой полигон:
// не менее 4 точек, замкнуто, координаты в пределах WGS84,
// ненулевая площадь, рёбра не пересекаются.
func ValidateRing(ring orb.Ring) error {
	if len(ring) < minRingPoints {
		return fmt.Errorf("%w: кольцо содержит %d точек, минимум %d", ErrInvalidPolygon, len(ring), minRingPoints)
	}
	if !ring.Closed() {
		return fmt.Errorf("%w: кольцо не замкнуто", ErrInvalidPolygon)
	}

	for i, p := range ring {
		lon, lat := p.Lon(), p.Lat()
		if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
			return fmt.Errorf("%w: точка %d содержит нечисловую координату", ErrInvalidPolygon, i)
		}
		if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
			return fmt.Errorf("%w: точка %d (%g, %g) вне диапазона WGS84", ErrInvalidPolygon, i, lon, lat)
		}
	}

	if planar.Area(ring) == 0 {
		return fmt.Errorf("%w: полигон имеет нулевую площадь", ErrInvalidPolygon)
	}

	if i, j, ok := firstSelfIntersection(dedupRing(ring)); ok {
		return fmt.Errorf("%w: рёбра %d и %d пересекаются", ErrInvalidPolygon, i, j)
	}

	return nil
}

// dedupRing убирает подряд идущие повторы вершин: рёбра нулевой длины
// иначе касаются соседних через общую вершину.
func dedupRing(ring orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(ring))
	for _, p := range ring {
		if len(out) > 0 && out[len(out)-1].Equal(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// firstSelfIntersection ищет пару несмежных рёбер замкнутого кольца,
// имеющих общую точку. Смежные рёбра делят вершину и не проверяются.
func firstSelfIntersection(ring orb.Ring) (int, int, bool) {
	n := len(ring) - 1 // число рёбер
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// segmentsIntersect — пересечение отрезков p1p2 и p3p4, включая касание.
func segmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	d1 := orientation(p3, p4, p1)
	d2 := orientation(p3, p4, p2)
	d3 := orientation(p1, p2, p3)
	d4 := orientation(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	return (d1 == 0 && onSegment(p3, p4, p1)) ||
		(d2 == 0 && onSegment(p3, p4, p2)) ||
		(d3 == 0 && onSegment(p1, p2, p3)) ||
		(d4 == 0 && onSegment(p1, p2, p4))
}

// orientation — знак векторного произведения (b-a)×(c-a).
func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// onSegment проверяет, что коллинеарная точка p лежит в границах отрезка ab.
func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

// GeometryJSON сериализует кольцо в GeoJSON geometry Polygon
// для передачи в ST_GeomFromGeoJSON.
func GeometryJSON(ring orb.Ring) (string, error) {
	data, err := json.Marshal(geojson.NewGeometry(orb.Polygon{ring}))
	if err != nil {
		return "", fmt.Errorf("сериализация полигона: %w", err)
	}
	return string(data), nil
}

// Feature — GeoJSON Feature ответа API. properties всегда сериализуются
// объектом: geojson.Feature отдаёт пустые properties как null.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]any
}

// MarshalJSON сериализует Feature с пустым объектом вместо null в properties.
func (f Feature) MarshalJSON() ([]byte, error) {
	props := f.Properties
	if props == nil {
		props = map[string]any{}
	}
	return json.Marshal(struct {
		Type       string            `json:"type"`
		Geometry   *geojson.Geometry `json:"geometry"`
		Properties map[string]any    `json:"properties"`
	}{"Feature", geojson.NewGeometry(f.Geometry), props})
}

// Collection — GeoJSON FeatureCollection ответа API.
type Collection struct {
	Features []Feature
}

// MarshalJSON сериализует коллекцию с полем type.
func (c Collection) MarshalJSON() ([]byte, error) {
	features := c.Features
	if features == nil {
		features = []Feature{}
	}
	return json.Marshal(struct {
		Type     string    `json:"type"`
		Features []Feature `json:"features"`
	}{"FeatureCollection", features})
}

// UnmarshalJSON разбирает FeatureCollection через geojson.
func (c *Collection) UnmarshalJSON(data []byte) error {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return err
	}
	c.Features = make([]Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		c.Features = append(c.Features, Feature{Geometry: f.Geometry, Properties: f.Properties})
	}
	return nil
}

// FeatureCollection оборачивает кольцо в FeatureCollection с одной Feature
// и пустыми properties.
func FeatureCollection(ring orb.Ring) *Collection {
	return &Collection{Features: []Feature{{Geometry: orb.Polygon{ring}}}}
}
