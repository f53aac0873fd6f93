package precomputed

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/storage"
)

// SegmentProperties is the neuroglancer_segment_properties info document.
type SegmentProperties struct {
	Type   string           `json:"@type"`
	Inline InlineProperties `json:"inline"`
}

type InlineProperties struct {
	IDs        []string   `json:"ids"`
	Properties []Property `json:"properties"`
}

type Property struct {
	ID     string   `json:"id"`
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

func newSegmentProperties(ids, labels []string) SegmentProperties {
	if ids == nil {
		ids = []string{}
	}
	if labels == nil {
		labels = []string{}
	}
	return SegmentProperties{
		Type: "neuroglancer_segment_properties",
		Inline: InlineProperties{
			IDs: ids,
			Properties: []Property{
				{ID: "label", Type: "label", Values: labels},
				{ID: "description", Type: "description", Values: labels},
			},
		},
	}
}

// segmentRecord is one row of the segment table: id, volume, x, y, z.
type segmentRecord struct {
	id      string
	volume  float64
	x, y, z float64
}

// SegmentProperties lists the mesh ids of a dataset.  The segment table, if present,
// gives ids ranked by descending volume with descriptive labels; otherwise ids come from
// the mesh file names and labels are empty.  Missing data never fails the request.
func (s *Service) SegmentProperties(ctx context.Context, name string) (SegmentProperties, error) {
	key := storage.JoinKey(name, s.cfg.PropertiesFile)
	data, err := s.store.ReadAll(ctx, key)
	switch {
	case err == nil:
		records, err := parseSegmentTable(data)
		if err == nil {
			ids, labels := rankSegments(records)
			return newSegmentProperties(ids, labels), nil
		}
		n5ng.Warningf("Unable to parse segment table %q, listing mesh files instead: %v\n", key, err)
	case !errors.Is(err, n5ng.ErrNotFound):
		n5ng.Warningf("Unable to read segment table %q, listing mesh files instead: %v\n", key, err)
	}

	ids, err := s.meshFileIDs(ctx, name)
	if err != nil {
		n5ng.Warningf("Unable to list meshes of %q: %v\n", name, err)
	}
	return newSegmentProperties(ids, make([]string, len(ids))), nil
}

// parseSegmentTable reads CSV rows after the header.  Rows with unparsable numbers are
// skipped with a warning.
func parseSegmentTable(data []byte) ([]segmentRecord, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var records []segmentRecord
	header := true
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header {
			header = false
			continue
		}
		if len(row) < 5 {
			n5ng.Warningf("Skipping segment table row %d with %d fields\n", line, len(row))
			continue
		}
		rec := segmentRecord{id: strings.TrimSpace(row[0])}
		var nums [4]float64
		bad := rec.id == ""
		for i := range nums {
			if nums[i], err = strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64); err != nil {
				bad = true
			}
		}
		if bad {
			n5ng.Warningf("Skipping segment table row %d: %v\n", line, row)
			continue
		}
		rec.volume, rec.x, rec.y, rec.z = nums[0], nums[1], nums[2], nums[3]
		records = append(records, rec)
	}
	return records, nil
}

// rankSegments orders records by descending volume, keeping table order for ties, and
// builds the "<rank> <id> vol:<volume> xyz:(<x>,<y>,<z>)" labels.
func rankSegments(records []segmentRecord) (ids, labels []string) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].volume > records[j].volume
	})
	width := n5ng.NumDigits(len(records))
	if width < 2 {
		width = 2
	}
	ids = make([]string, len(records))
	labels = make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.id
		labels[i] = fmt.Sprintf("%0*d %s vol:%s xyz:(%d,%d,%d)", width, i, rec.id,
			strconv.FormatFloat(rec.volume, 'g', 4, 64),
			int64(math.Round(rec.x/4)), int64(math.Round(rec.y/4)), int64(math.Round(rec.z/4)))
	}
	return ids, labels
}

// meshFileIDs returns the distinct stems, i.e., text before the first ".", of the files in
// the dataset's mesh directory in listing order.  Stems that are not uint64 segment ids,
// like the segment table itself, are skipped.
func (s *Service) meshFileIDs(ctx context.Context, name string) ([]string, error) {
	names, err := s.store.List(ctx, storage.JoinKey(name, s.cfg.MeshDir))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(names))
	var ids []string
	for _, fname := range names {
		if strings.HasSuffix(fname, "/") {
			continue
		}
		stem := strings.SplitN(fname, ".", 2)[0]
		if seen[stem] {
			continue
		}
		if _, err := strconv.ParseUint(stem, 10, 64); err != nil {
			n5ng.Debugf("Skipping non-segment file %q in mesh directory of %q\n", fname, name)
			continue
		}
		seen[stem] = true
		ids = append(ids, stem)
	}
	return ids, nil
}
