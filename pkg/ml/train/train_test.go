package train

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/leafgrade/leafgrade/pkg/ml/augment"
	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/leafgrade/leafgrade/pkg/ml/models"
	"github.com/leafgrade/leafgrade/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const testImageSize = 4

// separableDataset creates images whose mean intensity of channel 0 encodes the disease label,
// and channel 1 the severity label.
func separableDataset(t *testing.T, name string, n, numHeads int, rng *rand.Rand) *data.InMemoryDataset {
	rowLen := testImageSize * testImageSize * 3
	images := make([][]float64, n)
	labels := make([][]int, numHeads)
	for head := range labels {
		labels[head] = make([]int, n)
	}
	for ii := range n {
		img := make([]float64, rowLen)
		for head := range numHeads {
			labels[head][ii] = rng.IntN(data.NumClasses)
		}
		for jj := range img {
			channel := jj % 3
			var v float64
			if channel < numHeads {
				v = float64(labels[channel][ii]) - 2
			}
			img[jj] = v + 0.1*rng.NormFloat64()
		}
		images[ii] = img
	}
	ds, err := data.InMemory(name, images, labels...)
	require.NoError(t, err)
	return ds
}

func newShallow(t *testing.T, numHeads int) models.Model {
	m, err := models.New(models.Spec{
		Name: "shallow", NumHeads: numHeads, NumClasses: data.NumClasses,
		ImageSize: testImageSize, Channels: 3, Seed: 7,
	})
	require.NoError(t, err)
	return m
}

// recordingLogger keeps the results of each epoch, and marks every epoch as saved.
type recordingLogger struct {
	results []*EpochResult
}

func (l *recordingLogger) Log(state State, result *EpochResult) (State, error) {
	l.results = append(l.results, result)
	if result.Val.Loss < state.BestLoss {
		state.BestLoss = result.Val.Loss
		state.BestEpoch = state.Epoch
		state.Saved = true
	}
	return state, nil
}

// fixedModel returns the same logits for every example, and has no parameters.
type fixedModel struct {
	numHeads int
	logit    float64
}

func (m *fixedModel) Name() string  { return "fixed" }
func (m *fixedModel) NumHeads() int { return m.numHeads }
func (m *fixedModel) Forward(images *mat.Dense, _ bool) ([]*mat.Dense, error) {
	rows, _ := images.Dims()
	logits := make([]*mat.Dense, m.numHeads)
	for head := range logits {
		logits[head] = mat.NewDense(rows, data.NumClasses, nil)
		logits[head].Set(0, 0, m.logit)
	}
	return logits, nil
}
func (m *fixedModel) Backward([]*mat.Dense) error { return nil }
func (m *fixedModel) Params() []*models.Param   { return nil }

func TestOutputMode(t *testing.T) {
	for _, mode := range []OutputMode{OutputMultitask, OutputDisease, OutputSeverity} {
		parsed, err := OutputModeFromName(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}
	_, err := OutputModeFromName("both")
	require.Error(t, err)

	r, err := newRouter(OutputMultitask, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, r.Loss([]float64{1, 2}), 1e-12)

	r, err = newRouter(OutputSeverity, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, r.Loss([]float64{1, 2}))
	grads := r.Gradients([]*mat.Dense{mat.NewDense(1, 1, nil), mat.NewDense(1, 1, nil)})
	assert.Nil(t, grads[0])
	assert.NotNil(t, grads[1])

	r, err = newRouter(OutputDisease, 2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.Loss([]float64{1, 2}))

	// Single head models ignore the mode.
	r, err = newRouter(OutputSeverity, 1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, r.Loss([]float64{3}))
}

func TestHeadNames(t *testing.T) {
	assert.Equal(t, []string{"dis", "sev"}, HeadNames(2))
	assert.Equal(t, []string{""}, HeadNames(1))
	assert.Equal(t, []string{"head0", "head1", "head2"}, HeadNames(3))
}

func TestRunEpochs(t *testing.T) {
	for _, numHeads := range []int{1, 2} {
		for _, augName := range []string{"none", "bc+", "mixup"} {
			t.Run(augName, func(t *testing.T) {
				rng := rand.New(rand.NewPCG(42, uint64(numHeads)))
				trainDS := separableDataset(t, "train", 200, numHeads, rng)
				valDS := separableDataset(t, "val", 50, numHeads, rng)
				strategy, err := augment.FromName(augName, augment.DefaultMixupAlpha, rng)
				require.NoError(t, err)
				opt := optimizers.Adam().LearningRate(0.01).Done()
				trainer, err := NewTrainer(newShallow(t, numHeads), opt, strategy, OutputMultitask)
				require.NoError(t, err)

				logger := &recordingLogger{}
				loop := NewLoop(trainer, logger)
				var numSteps, numEpochHooks int
				loop.OnStep("count", 0, func(_ *Loop, result *StepResult) error {
					numSteps++
					assert.Len(t, result.HeadLosses, numHeads)
					return nil
				})
				loop.OnEpoch("count", 0, func(_ *Loop, _ *EpochResult) error {
					numEpochHooks++
					return nil
				})
				const epochs = 6
				state, err := loop.RunEpochs(
					data.NewLoader(trainDS, 16).Shuffle(rng),
					data.NewLoader(valDS, 16), epochs)
				require.NoError(t, err)
				require.Len(t, logger.results, epochs)
				assert.Equal(t, epochs, numEpochHooks)
				assert.Equal(t, epochs*13, numSteps)
				assert.Equal(t, numSteps, loop.LoopStep)
				assert.Equal(t, epochs-1, state.Epoch)
				assert.True(t, state.HasBest())

				first, last := logger.results[0], logger.results[epochs-1]
				assert.Less(t, last.Val.Loss, first.Val.Loss)
				require.Len(t, last.Val.Accuracy, numHeads)
				for _, accuracy := range last.Val.Accuracy {
					assert.GreaterOrEqual(t, accuracy, 0.0)
					assert.LessOrEqual(t, accuracy, 100.0)
				}
				assert.Greater(t, loop.MedianTrainStepDuration(), time.Duration(0))
			})
		}
	}
}

func TestLearningRateSchedule(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	ds := separableDataset(t, "train", 8, 2, rng)
	opt := optimizers.StochasticGradientDescent().Done()
	trainer, err := NewTrainer(&fixedModel{numHeads: 2}, opt, nil, OutputMultitask)
	require.NoError(t, err)
	logger := &recordingLogger{}
	loop := NewLoop(trainer, logger)
	assert.Equal(t, optimizers.DefaultStepTable, loop.Schedule)
	state, err := loop.RunEpochs(data.NewLoader(ds, 4), data.NewLoader(ds, 4), 4)
	require.NoError(t, err)

	var used, next []float64
	for _, result := range logger.results {
		used = append(used, result.LearningRate)
		next = append(next, result.NextLearningRate)
	}
	assert.Equal(t, []float64{0.01, 0.01, 0.005, 0.001}, used)
	assert.Equal(t, []float64{0.01, 0.005, 0.001, 0.0005}, next)
	assert.Equal(t, 0.0005, state.LearningRate)
	assert.Equal(t, 0.0005, opt.LearningRate())

	// A constant schedule keeps the initial rate.
	opt = optimizers.StochasticGradientDescent().Done()
	trainer, err = NewTrainer(&fixedModel{numHeads: 2}, opt, nil, OutputMultitask)
	require.NoError(t, err)
	loop = NewLoop(trainer, nil).WithSchedule(optimizers.Constant(0.2))
	state, err = loop.RunEpochs(data.NewLoader(ds, 4), data.NewLoader(ds, 4), 3)
	require.NoError(t, err)
	assert.Equal(t, 0.2, state.LearningRate)
	assert.False(t, state.HasBest())
}

func TestNaNLossInterruptsTraining(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	ds := separableDataset(t, "train", 8, 1, rng)
	trainer, err := NewTrainer(&fixedModel{numHeads: 1, logit: math.NaN()}, optimizers.Adam().Done(), nil, OutputMultitask)
	require.NoError(t, err)
	_, err = NewLoop(trainer, nil).RunEpochs(data.NewLoader(ds, 4), data.NewLoader(ds, 4), 2)
	require.ErrorContains(t, err, "NaN")
}

// weightedModel is a fixedModel with one shared parameter, whose gradient is always one.
type weightedModel struct {
	fixedModel
	weight *models.Param
}

func (m *weightedModel) Backward([]*mat.Dense) error {
	m.weight.Grad.Set(0, 0, 1)
	return nil
}
func (m *weightedModel) Params() []*models.Param { return []*models.Param{m.weight} }

func TestTrainStepRejectsNaNBeforeUpdate(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	ds := separableDataset(t, "train", 4, 1, rng)
	loader := data.NewLoader(ds, 4)
	require.NoError(t, loader.Reset())
	batch, err := loader.Yield()
	require.NoError(t, err)

	for _, logit := range []float64{math.NaN(), math.Inf(1)} {
		m := &weightedModel{fixedModel: fixedModel{numHeads: 1, logit: logit}, weight: models.NewParam("w", 1, 1)}
		m.weight.Value.Set(0, 0, 1)
		trainer, err := NewTrainer(m, optimizers.StochasticGradientDescent().WeightDecay(0.1).Done(), nil, OutputMultitask)
		require.NoError(t, err)
		_, err = trainer.TrainStep(batch)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "training interrupted")
		assert.Equal(t, 1.0, m.weight.Value.At(0, 0), "weights must not change when the loss is %v", logit)
	}
}

func TestTrainStepFreezesUnroutedHead(t *testing.T) {
	optimizerConfigs := map[string]func() optimizers.Interface{
		"sgd":  func() optimizers.Interface { return optimizers.StochasticGradientDescent().WeightDecay(0.01).Done() },
		"adam": func() optimizers.Interface { return optimizers.Adam().WeightDecay(0.01).Done() },
	}
	for name, newOptimizer := range optimizerConfigs {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(3, 4))
			ds := separableDataset(t, "train", 8, 2, rng)
			loader := data.NewLoader(ds, 8)
			require.NoError(t, loader.Reset())
			batch, err := loader.Yield()
			require.NoError(t, err)

			m := newShallow(t, 2)
			before := make(map[string]*mat.Dense)
			for _, p := range m.Params() {
				before[p.Name] = mat.DenseCopyOf(p.Value)
			}
			trainer, err := NewTrainer(m, newOptimizer(), augment.NewMixup(1, rng), OutputDisease)
			require.NoError(t, err)
			_, err = trainer.TrainStep(batch)
			require.NoError(t, err)

			for _, p := range m.Params() {
				switch p.Head {
				case 1:
					assert.True(t, mat.Equal(before[p.Name], p.Value), "%s changed while its head is not trained", p.Name)
				default:
					assert.False(t, mat.Equal(before[p.Name], p.Value), "%s was not updated", p.Name)
				}
			}
		})
	}
}

func TestEmptyTrainingSet(t *testing.T) {
	ds, err := data.InMemory("empty", nil, []int{})
	require.NoError(t, err)
	trainer, err := NewTrainer(&fixedModel{numHeads: 1}, optimizers.Adam().Done(), nil, OutputMultitask)
	require.NoError(t, err)
	valDS := separableDataset(t, "val", 4, 1, rand.New(rand.NewPCG(5, 5)))
	_, err = NewLoop(trainer, nil).RunEpochs(data.NewLoader(ds, 4), data.NewLoader(valDS, 4), 1)
	require.ErrorContains(t, err, "no batches")

	// Empty validation set.
	_, err = NewLoop(trainer, nil).RunEpochs(data.NewLoader(valDS, 4), data.NewLoader(ds, 4), 1)
	require.ErrorContains(t, err, "validation dataset")
}

func TestHooksOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	ds := separableDataset(t, "train", 4, 1, rng)
	trainer, err := NewTrainer(&fixedModel{numHeads: 1}, optimizers.Adam().Done(), nil, OutputMultitask)
	require.NoError(t, err)
	loop := NewLoop(trainer, nil)
	var calls []string
	loop.OnEnd("last", 10, func(*Loop, State) error { calls = append(calls, "last"); return nil })
	loop.OnEnd("first", -1, func(*Loop, State) error { calls = append(calls, "first"); return nil })
	loop.OnEnd("middle", 0, func(*Loop, State) error { calls = append(calls, "middle"); return nil })
	loop.OnStart("start", 0, func(*Loop, *data.Loader) error { calls = append(calls, "start"); return nil })
	_, err = loop.RunEpochs(data.NewLoader(ds, 4), data.NewLoader(ds, 4), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "first", "middle", "last"}, calls)
}

func TestTrainerRejectsMismatchedHeads(t *testing.T) {
	_, err := NewTrainer(&fixedModel{numHeads: 1}, optimizers.Adam().Done(), nil, OutputMultitask)
	require.NoError(t, err)

	trainer, err := NewTrainer(&fixedModel{numHeads: 2}, optimizers.Adam().Done(), nil, OutputMultitask)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(5, 5))
	ds := separableDataset(t, "one_head", 4, 1, rng)
	batch, err := data.NewLoader(ds, 4).Yield()
	require.NoError(t, err)
	_, err = trainer.EvalStep(batch)
	require.ErrorContains(t, err, "returned 2 outputs")
}
