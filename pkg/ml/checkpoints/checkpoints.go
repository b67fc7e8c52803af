// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints saves and loads the full set of parameters of a model.
//
// A checkpoint is a pair of files sharing a base path: "<base>.json" with the metadata (model name,
// number of heads, and the name, dimensions and position of each parameter) and "<base>.bin" with
// the values of the parameters, as little-endian float64.
//
// Both files are overwritten atomically (written to a temporary file and renamed), so a crash
// while saving leaves the previous checkpoint readable:
//
//	if err := checkpoints.Save(filepath.Join(dir, "resnet50_mixup"), model); err != nil {
//		return err
//	}
//	…
//	metadata, err := checkpoints.Load(filepath.Join(dir, "resnet50_mixup"), model)
package checkpoints

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/leafgrade/leafgrade/pkg/ml/models"
	"github.com/leafgrade/leafgrade/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	jsonNameSuffix = ".json"
	varDataSuffix  = ".bin"

	bytesPerValue = 8
)

// Metadata is the contents of the ".json" file of a checkpoint.
type Metadata struct {
	// ModelName and NumHeads of the model saved.
	ModelName string
	NumHeads  int

	// Params in the order they are stored in the data file.
	Params []SerializedParam
}

// SerializedParam describes where the values of a parameter are stored in the data file.
type SerializedParam struct {
	Name string

	// Dimensions of the parameter: rows and columns.
	Dimensions []int

	// Pos, Length in bytes in the data file.
	Pos, Length int
}

// JSONPath returns the path of the metadata file of the checkpoint at basePath.
func JSONPath(basePath string) string { return basePath + jsonNameSuffix }

// DataPath returns the path of the data file of the checkpoint at basePath.
func DataPath(basePath string) string { return basePath + varDataSuffix }

// Exists returns whether both files of the checkpoint at basePath exist.
func Exists(basePath string) (bool, error) {
	for _, path := range []string{JSONPath(basePath), DataPath(basePath)} {
		exists, err := fsutil.FileExists(path)
		if err != nil || !exists {
			return false, err
		}
	}
	return true, nil
}

// Save writes all parameters of model to the checkpoint at basePath, replacing any previous one.
//
// The data file is written first, so a metadata file always refers to a complete data file, even if
// the process is interrupted in between.
func Save(basePath string, model models.Model) error {
	metadata := &Metadata{ModelName: model.Name(), NumHeads: model.NumHeads()}
	params := model.Params()
	pos := 0
	dataPath := DataPath(basePath)
	err := fsutil.WriteFileAtomic(dataPath, func(w io.Writer) error {
		buf := bufio.NewWriter(w)
		for _, p := range params {
			rows, cols := p.Value.Dims()
			values := make([]float64, 0, rows*cols)
			for row := range rows {
				values = append(values, p.Value.RawRowView(row)...)
			}
			if err := binary.Write(buf, binary.LittleEndian, values); err != nil {
				return errors.Wrapf(err, "failed to write parameter %q", p.Name)
			}
			length := len(values) * bytesPerValue
			metadata.Params = append(metadata.Params, SerializedParam{
				Name:       p.Name,
				Dimensions: []int{rows, cols},
				Pos:        pos,
				Length:     length,
			})
			pos += length
		}
		return buf.Flush()
	})
	if err != nil {
		return errors.WithMessagef(err, "saving checkpoint data of model %q", model.Name())
	}

	err = fsutil.WriteFileAtomic(JSONPath(basePath), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "\t")
		return enc.Encode(metadata)
	})
	if err != nil {
		return errors.WithMessagef(err, "saving checkpoint metadata of model %q", model.Name())
	}
	klog.V(1).Infof("checkpoint %s: saved %d parameters (%s)", basePath, len(params), humanize.Bytes(uint64(pos)))
	return nil
}

// ReadMetadata reads the metadata file of the checkpoint at basePath.
func ReadMetadata(basePath string) (*Metadata, error) {
	jsonFileName := JSONPath(basePath)
	jsonFile, err := os.Open(jsonFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint metadata file %s", jsonFileName)
	}
	defer func() { _ = jsonFile.Close() }()
	metadata := &Metadata{}
	if err = json.NewDecoder(jsonFile).Decode(metadata); err != nil {
		return nil, errors.Wrapf(err, "failed to decode contents of checkpoint metadata file %s", jsonFileName)
	}
	return metadata, nil
}

// Load reads the checkpoint at basePath into the parameters of model, and returns its metadata.
//
// The checkpoint must hold exactly the parameters of model, with the same names and dimensions.
func Load(basePath string, model models.Model) (*Metadata, error) {
	metadata, err := ReadMetadata(basePath)
	if err != nil {
		return nil, err
	}
	if metadata.NumHeads != model.NumHeads() {
		return nil, errors.Errorf("checkpoint %s has %d heads, model %q has %d",
			basePath, metadata.NumHeads, model.Name(), model.NumHeads())
	}
	params := model.Params()
	if len(params) != len(metadata.Params) {
		return nil, errors.Errorf("checkpoint %s has %d parameters, model %q has %d",
			basePath, len(metadata.Params), model.Name(), len(params))
	}
	dataFileName := DataPath(basePath)
	raw, err := os.ReadFile(dataFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read checkpoint data file %s", dataFileName)
	}
	for ii, p := range params {
		serialized := metadata.Params[ii]
		rows, cols := p.Value.Dims()
		if serialized.Name != p.Name || !slices.Equal(serialized.Dimensions, []int{rows, cols}) {
			return nil, errors.Errorf("checkpoint %s: parameter #%d is %q shaped %v, model %q expects %q shaped [%d %d]",
				basePath, ii, serialized.Name, serialized.Dimensions, model.Name(), p.Name, rows, cols)
		}
		if serialized.Length != rows*cols*bytesPerValue || serialized.Pos < 0 || serialized.Pos+serialized.Length > len(raw) {
			return nil, errors.Errorf("checkpoint %s: parameter %q at [%d, %d) doesn't fit data file of %d bytes",
				basePath, p.Name, serialized.Pos, serialized.Pos+serialized.Length, len(raw))
		}
		chunk := raw[serialized.Pos : serialized.Pos+serialized.Length]
		for row := range rows {
			values := p.Value.RawRowView(row)
			for col := range values {
				offset := (row*cols + col) * bytesPerValue
				values[col] = math.Float64frombits(binary.LittleEndian.Uint64(chunk[offset:]))
			}
		}
	}
	if metadata.ModelName != model.Name() {
		klog.Warningf("checkpoint %s was saved from model %q, loaded into %q", basePath, metadata.ModelName, model.Name())
	}
	return metadata, nil
}
