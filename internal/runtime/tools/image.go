package tools

import (
	"context"
	"net/http"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/types"
)

// storeImage keeps generated bytes as an artifact so later turns can edit
// the image by reference.
func storeImage(ctx context.Context, artifacts types.ArtifactStore, args Args, tool string, ref adapters.ImageRef) (*types.ReplyImage, error) {
	img := &types.ReplyImage{URL: ref.URL, MimeType: ref.MimeType, Data: ref.Data}
	if len(ref.Data) == 0 {
		return img, nil
	}
	if img.MimeType == "" {
		img.MimeType = http.DetectContentType(ref.Data)
	}
	id, err := artifacts.Put(ctx, args.UserID, args.RunID, tool, img.MimeType, ref.Data)
	if err != nil {
		return nil, adapters.NewError(adapters.KindRemote, tool, "", err)
	}
	img.ArtifactID = id
	return img, nil
}

type GenerateImage struct {
	image     adapters.Image
	artifacts types.ArtifactStore
}

func NewGenerateImage(img adapters.Image, artifacts types.ArtifactStore) *GenerateImage {
	return &GenerateImage{image: img, artifacts: artifacts}
}

func (g *GenerateImage) Name() string        { return ImageGenerate }
func (g *GenerateImage) Description() string { return "Generate an image from a prompt" }

func (g *GenerateImage) Execute(ctx context.Context, args Args) (Payload, error) {
	prompt := args.Intent.Text(intent.SlotPrompt)
	if prompt == "" {
		return Payload{}, validation(ImageGenerate, "an image needs a description")
	}
	ref, err := g.image.Generate(ctx, prompt, args.Intent.Text(intent.SlotStyle))
	if err != nil {
		return Payload{}, err
	}
	img, err := storeImage(ctx, g.artifacts, args, ImageGenerate, ref)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Image: img, Text: prompt}, nil
}

// EditImage applies an instruction to a stored image artifact.
type EditImage struct {
	image     adapters.Image
	artifacts types.ArtifactStore
}

func NewEditImage(img adapters.Image, artifacts types.ArtifactStore) *EditImage {
	return &EditImage{image: img, artifacts: artifacts}
}

func (e *EditImage) Name() string        { return ImageEdit }
func (e *EditImage) Description() string { return "Edit an existing image" }

func (e *EditImage) Execute(ctx context.Context, args Args) (Payload, error) {
	src := args.Intent.Text(intent.SlotImage)
	instruction := args.Intent.Text(intent.SlotInstruction)
	if src == "" || instruction == "" {
		return Payload{}, validation(ImageEdit, "an edit needs an image and an instruction")
	}
	data, meta, err := e.artifacts.Get(ctx, types.ArtifactID(src))
	if err != nil {
		return Payload{}, validation(ImageEdit, "I can't find that image anymore, please send it again")
	}

	ref, err := e.image.Edit(ctx, adapters.ImageRef{ID: src, MimeType: meta.MimeType, Data: data}, instruction)
	if err != nil {
		return Payload{}, err
	}
	img, err := storeImage(ctx, e.artifacts, args, ImageEdit, ref)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Image: img, Text: instruction}, nil
}
