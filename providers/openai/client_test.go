package openai_test

import (
	"context"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/providers/openai"
	"github.com/arcanefly/workforce/registry"
)

type fakeChat struct {
	resp *sdk.ChatCompletion
	err  error
}

func (f *fakeChat) New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error) {
	return f.resp, f.err
}

func testModels() []registry.Spec {
	return []registry.Spec{{
		Provider: "openai", ModelID: "gpt-4o",
		Capabilities:  registry.NewCapabilitySet(registry.CapTextGeneration),
		InputCostPerM: 2.5, OutputCostPerM: 10.0,
	}}
}

func TestGenerate_TranslatesResponse(t *testing.T) {
	fake := &fakeChat{resp: &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{{
			FinishReason: "stop",
			Message:      sdk.ChatCompletionMessage{Content: "hello world"},
		}},
		Usage: sdk.CompletionUsage{PromptTokens: 12, CompletionTokens: 4},
	}}
	c, err := openai.New(fake, testModels(), nil)
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), providers.Request{
		Prompt: "hi", Model: "openai/gpt-4o", MaxTokens: 100,
	})
	require.NoError(t, err)
	require.Equal(t, "hello world", resp.Content)
	require.Equal(t, "openai/gpt-4o", resp.Model)
	require.Equal(t, 12, resp.InputTokens)
	require.Equal(t, 4, resp.OutputTokens)
	require.InDelta(t, 12.0/1_000_000*2.5+4.0/1_000_000*10.0, resp.CostUSD, 1e-9)
}

func TestGenerate_UpstreamErrorIsWrapped(t *testing.T) {
	fake := &fakeChat{err: context.DeadlineExceeded}
	c, err := openai.New(fake, testModels(), nil)
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), providers.Request{Prompt: "hi", Model: "openai/gpt-4o"})
	require.Error(t, err)
}

func TestNew_RejectsNilClient(t *testing.T) {
	_, err := openai.New(nil, testModels(), nil)
	require.Error(t, err)
}

func TestCost_UnknownModelYieldsZero(t *testing.T) {
	c, err := openai.New(&fakeChat{}, testModels(), nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, c.Cost(100, 100, "openai/unknown"))
}
