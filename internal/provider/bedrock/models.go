package bedrock

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/bedrock"

	"github.com/relaychat/relay/pkg/models"
)

// FoundationModel describes one model Bedrock's control plane reports as
// available to the caller's account, independent of whether it has been
// granted access yet.
type FoundationModel struct {
	ID               string
	Name             string
	ProviderName     string
	InputModalities  []string
	OutputModalities []string
}

// ListFoundationModels queries Bedrock's control-plane API (distinct from
// the bedrockruntime inference API the Provider itself uses) for the models
// available in this account/region, so a caller can populate a model picker
// without hardcoding a list that drifts from what AWS actually offers.
// Callers construct a bedrock.Client from the same aws.Config used for the
// Provider's bedrockruntime client and pass it here.
func ListFoundationModels(ctx context.Context, client *bedrock.Client) ([]FoundationModel, error) {
	out, err := client.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, models.NewError(models.ErrIO, "listing bedrock foundation models", err)
	}

	result := make([]FoundationModel, 0, len(out.ModelSummaries))
	for _, m := range out.ModelSummaries {
		fm := FoundationModel{
			ID:           derefString(m.ModelId),
			Name:         derefString(m.ModelName),
			ProviderName: derefString(m.ProviderName),
		}
		for _, mod := range m.InputModalities {
			fm.InputModalities = append(fm.InputModalities, string(mod))
		}
		for _, mod := range m.OutputModalities {
			fm.OutputModalities = append(fm.OutputModalities, string(mod))
		}
		result = append(result, fm)
	}
	return result, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
