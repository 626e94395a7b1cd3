// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package gateway

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
)

// SchemaID is the $id of the client frame schema.
const SchemaID = "https://connectly.dev/schemas/client-frame.schema.json"

// Client frame types.
const (
	FrameSend = "send"
	FramePing = "ping"
)

// ClientFrame is a frame sent by a client over the WebSocket.
type ClientFrame struct {
	Type  string `json:"type" jsonschema:"enum=send,enum=ping,description=Frame kind"`
	Ref   string `json:"ref,omitempty" jsonschema:"maxLength=64,description=Client correlation id echoed in the reply"`
	To    string `json:"to,omitempty" jsonschema:"minLength=1,maxLength=256,description=Recipient identity (send only)"`
	Text  string `json:"text,omitempty" jsonschema:"maxLength=4000"`
	Image string `json:"image,omitempty" jsonschema:"maxLength=2048,description=Image URL (send only)"`
}

var (
	frameSchemaOnce sync.Once
	frameSchema     *jschema.Schema
	frameSchemaErr  error
)

// GenerateFrameSchema returns the JSON Schema for ClientFrame.
func GenerateFrameSchema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(&ClientFrame{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Connectly client frame"
	schema.Description = "Frames accepted from clients on the /ws endpoint"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
	}
	return data, nil
}

func compiledFrameSchema() (*jschema.Schema, error) {
	frameSchemaOnce.Do(func() {
		raw, err := GenerateFrameSchema()
		if err != nil {
			frameSchemaErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			frameSchemaErr = oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource(SchemaID, doc); err != nil {
			frameSchemaErr = oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		frameSchema, frameSchemaErr = c.Compile(SchemaID)
		if frameSchemaErr != nil {
			frameSchemaErr = oops.Code("SCHEMA_COMPILE_FAILED").Wrap(frameSchemaErr)
		}
	})
	return frameSchema, frameSchemaErr
}

// ParseFrame validates data against the frame schema and decodes it.
func ParseFrame(data []byte) (ClientFrame, error) {
	sch, err := compiledFrameSchema()
	if err != nil {
		return ClientFrame{}, err
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return ClientFrame{}, oops.Code("FRAME_INVALID").With("reason", "malformed json").Wrap(err)
	}
	if err := sch.Validate(doc); err != nil {
		return ClientFrame{}, oops.Code("FRAME_INVALID").Wrap(err)
	}

	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ClientFrame{}, oops.Code("FRAME_INVALID").Wrap(err)
	}
	return frame, nil
}
