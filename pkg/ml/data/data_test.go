package data

import (
	"fmt"
	"image/color"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask(t *testing.T) {
	assert.Equal(t, "entire_leaf", TaskEntireLeaf.String())
	assert.Equal(t, 2, TaskEntireLeaf.NumHeads())
	assert.Equal(t, 1, TaskLesionSpot.NumHeads())
	assert.Equal(t, "Very high", TaskEntireLeaf.ClassNames(HeadSeverity)[4])
	assert.Equal(t, "Cercospora", TaskLesionSpot.ClassNames(0)[4])

	var task Task
	require.NoError(t, task.UnmarshalText([]byte("lesion_spot")))
	assert.Equal(t, TaskLesionSpot, task)
	_, err := TaskFromName("whole_plant")
	require.Error(t, err)
}

func syntheticDataset(t *testing.T, n int) *InMemoryDataset {
	images := make([][]float64, n)
	labels := make([]int, n)
	for ii := range images {
		images[ii] = []float64{float64(ii), float64(-ii)}
		labels[ii] = ii % NumClasses
	}
	ds, err := InMemory("synthetic", images, labels)
	require.NoError(t, err)
	return ds
}

func TestNewBatch(t *testing.T) {
	ds := syntheticDataset(t, 3)
	var examples []*Example
	for ii := range 3 {
		example, err := ds.Example(ii)
		require.NoError(t, err)
		examples = append(examples, example)
	}
	batch, err := NewBatch(examples, []int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Size())
	assert.Equal(t, 1, batch.NumHeads())
	assert.Equal(t, []int{0, 1, 2}, batch.Labels[0])
	assert.Equal(t, -2.0, batch.Images.At(2, 1))

	clone := batch.Clone()
	clone.Images.Set(0, 0, 100)
	clone.Labels[0][0] = 4
	assert.Equal(t, 0.0, batch.Images.At(0, 0))
	assert.Equal(t, 0, batch.Labels[0][0])

	examples[1].Labels = []int{7}
	_, err = NewBatch(examples, nil)
	require.Error(t, err)
}

func TestInMemoryMismatch(t *testing.T) {
	_, err := InMemory("bad", [][]float64{{1}, {2}}, []int{0})
	require.Error(t, err)
}

func collectEpoch(t *testing.T, loader *Loader) (sizes []int, indices []int) {
	require.NoError(t, loader.Reset())
	for {
		batch, err := loader.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, batch.Size())
		indices = append(indices, batch.Indices...)
	}
	return
}

type fixedSampler []int

func (s fixedSampler) Schedule() ([]int, error) { return s, nil }

func TestLoader(t *testing.T) {
	ds := syntheticDataset(t, 10)

	loader := NewLoader(ds, 4)
	assert.Equal(t, 3, loader.NumBatches())
	sizes, indices := collectEpoch(t, loader)
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, indices)

	loader = NewLoader(ds, 3).Shuffle(rand.New(rand.NewPCG(1, 2)))
	_, indices = collectEpoch(t, loader)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, indices)

	loader = NewLoader(ds, 2).WithSampler(fixedSampler{9, 9, 9, 1, 1})
	sizes, indices = collectEpoch(t, loader)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int{9, 9, 9, 1, 1}, indices)
}

func TestTransform(t *testing.T) {
	img := imaging.New(8, 8, color.NRGBA{R: 255, G: 0, B: 255, A: 255})
	row := EvalTransform(4).Apply(img)
	require.Len(t, row, 4*4*3)
	assert.InDelta(t, (1-ImageNetMean[0])/ImageNetStd[0], row[0], 1e-6)
	assert.InDelta(t, (0-ImageNetMean[1])/ImageNetStd[1], row[1], 1e-6)
	assert.InDelta(t, (1-ImageNetMean[2])/ImageNetStd[2], row[2], 1e-6)

	// Random augmentations keep the shape.
	train := TrainTransform(4, rand.New(rand.NewPCG(3, 4)))
	for range 5 {
		assert.Len(t, train.Apply(img), 4*4*3)
	}
}

func writeImage(t *testing.T, filePath string, c color.Color) {
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
	require.NoError(t, imaging.Save(imaging.New(6, 6, c), filePath))
}

func TestCoffeeLeaves(t *testing.T) {
	dir := t.TempDir()
	imagesDir := filepath.Join(dir, "images")
	var csv strings.Builder
	csv.WriteString("id,disease,severity\n")
	const numRows = 40
	for ii := range numRows {
		id := fmt.Sprintf("leaf%03d", ii)
		_, _ = fmt.Fprintf(&csv, "%s,%d,%d\n", id, ii%NumClasses, (ii/2)%NumClasses)
		writeImage(t, filepath.Join(imagesDir, id+".jpg"), color.NRGBA{R: 10, G: 200, B: 30, A: 255})
	}
	csvFile := filepath.Join(dir, "dataset.csv")
	require.NoError(t, os.WriteFile(csvFile, []byte(csv.String()), 0o644))

	seen := make(map[string]Split)
	total := 0
	for _, split := range []Split{SplitTrain, SplitValidation, SplitTest} {
		ds, err := CoffeeLeaves(csvFile, imagesDir, split, 2, EvalTransform(4))
		require.NoError(t, err)
		assert.Equal(t, 2, ds.NumHeads())
		total += ds.Len()
		for ii := range ds.Len() {
			id := strings.TrimSuffix(filepath.Base(ds.ImagePath(ii)), ".jpg")
			_, found := seen[id]
			assert.False(t, found, "id %s in more than one split", id)
			seen[id] = split
			assert.Equal(t, FoldOf(id) == 2, split == SplitTest)
			assert.Equal(t, FoldOf(id) == 3, split == SplitValidation)
		}
		if ds.Len() > 0 {
			example, err := ds.Example(0)
			require.NoError(t, err)
			assert.Len(t, example.Image, 4*4*3)
			assert.Len(t, example.Labels, 2)
		}
	}
	assert.Equal(t, numRows, total)

	_, err := CoffeeLeaves(csvFile, imagesDir, SplitTrain, NumFolds, EvalTransform(4))
	require.Error(t, err)
}

func TestImageFolder(t *testing.T) {
	root := t.TempDir()
	writeImage(t, filepath.Join(root, "rust", "a.png"), color.White)
	writeImage(t, filepath.Join(root, "rust", "b.jpg"), color.White)
	writeImage(t, filepath.Join(root, "healthy", "c.png"), color.Black)
	require.NoError(t, os.WriteFile(filepath.Join(root, "rust", "notes.txt"), []byte("x"), 0o644))

	ds, err := ImageFolder(root, EvalTransform(4))
	require.NoError(t, err)
	assert.Equal(t, []string{"healthy", "rust"}, ds.Classes())
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, [][]int{{0, 1, 1}}, ds.Labels())
	example, err := ds.Example(2)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, example.Labels)
	assert.Len(t, example.Image, 4*4*3)
}
