// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"os"
	"path"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// ImageFolderDataset is the lesion spot dataset: one sub-directory per class, with the images of
// the class inside. Classes are indexed in the sorted order of their directory names.
type ImageFolderDataset struct {
	root      string
	transform *Transform
	classes   []string
	paths     []string
	labels    []int
}

var _ Dataset = (*ImageFolderDataset)(nil)

// ImageFolder lists the images under root, organized as "<root>/<class>/<image>".
func ImageFolder(root string, transform *Transform) (*ImageFolderDataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list classes in %q", root)
	}
	ds := &ImageFolderDataset{root: root, transform: transform}
	for _, entry := range entries {
		if entry.IsDir() {
			ds.classes = append(ds.classes, entry.Name())
		}
	}
	slices.Sort(ds.classes)
	if len(ds.classes) > NumClasses {
		return nil, errors.Errorf("%q has %d classes (%q), at most %d are supported",
			root, len(ds.classes), ds.classes, NumClasses)
	}
	for classIdx, class := range ds.classes {
		classDir := path.Join(root, class)
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list images in %q", classDir)
		}
		count := 0
		for _, file := range files {
			ext := strings.ToLower(path.Ext(file.Name()))
			if file.IsDir() || !slices.Contains(imageExtensions, ext) {
				continue
			}
			ds.paths = append(ds.paths, path.Join(classDir, file.Name()))
			ds.labels = append(ds.labels, classIdx)
			count++
		}
		if count == 0 {
			klog.Warningf("ImageFolder(%q): class %q has no images", root, class)
		}
	}
	return ds, nil
}

// Classes returns the class names, in label order.
func (ds *ImageFolderDataset) Classes() []string { return ds.classes }

// Name implements Dataset.
func (ds *ImageFolderDataset) Name() string { return ds.root }

// Len implements Dataset.
func (ds *ImageFolderDataset) Len() int { return len(ds.paths) }

// NumHeads implements Dataset.
func (ds *ImageFolderDataset) NumHeads() int { return 1 }

// Labels implements Dataset.
func (ds *ImageFolderDataset) Labels() [][]int { return [][]int{ds.labels} }

// Example implements Dataset.
func (ds *ImageFolderDataset) Example(idx int) (*Example, error) {
	if idx < 0 || idx >= len(ds.paths) {
		return nil, errors.Errorf("%s: example %d out of range [0, %d)", ds.root, idx, len(ds.paths))
	}
	image, err := ds.transform.LoadImage(ds.paths[idx])
	if err != nil {
		return nil, err
	}
	return &Example{Image: image, Labels: []int{ds.labels[idx]}}, nil
}
