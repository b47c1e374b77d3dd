// Package docs holds the OpenAPI document served by the swagger build of
// recon3d serve.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/reconstruct": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Reconstruct a point cloud from a directory of images",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.ReconstructRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ReconstructResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Another reconstruction is running", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Model or runtime unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/device": {
            "get": {
                "produces": ["application/json"],
                "summary": "Report the probed hardware and selected precision",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DeviceResponse"}}}
            }
        },
        "/healthz": {"get": {"summary": "Liveness probe", "responses": {"200": {"description": "ok"}}}},
        "/readyz": {"get": {"summary": "Readiness probe", "responses": {"200": {"description": "ready"}, "503": {"description": "loading"}}}}
    },
    "definitions": {
        "types.QueryPoint": {
            "type": "object",
            "properties": {"x": {"type": "number", "example": 100}, "y": {"type": "number", "example": 200}}
        },
        "types.ReconstructRequest": {
            "type": "object",
            "properties": {
                "source_dir": {"type": "string", "example": "scenes/kitchen"},
                "output_path": {"type": "string", "example": "out/kitchen.ply"},
                "track": {"type": "boolean", "example": true},
                "queries": {"type": "array", "items": {"$ref": "#/definitions/types.QueryPoint"}}
            }
        },
        "types.CameraPose": {
            "type": "object",
            "properties": {
                "center": {"type": "array", "items": {"type": "number"}},
                "fx": {"type": "number"},
                "fy": {"type": "number"}
            }
        },
        "types.Track": {
            "type": "object",
            "properties": {
                "query": {"$ref": "#/definitions/types.QueryPoint"},
                "positions": {"type": "array", "items": {"type": "array", "items": {"type": "number"}}},
                "visibility": {"type": "array", "items": {"type": "number"}},
                "confidence": {"type": "array", "items": {"type": "number"}}
            }
        },
        "types.ReconstructResponse": {
            "type": "object",
            "properties": {
                "run_id": {"type": "string"},
                "output_path": {"type": "string", "example": "out/kitchen.ply"},
                "points": {"type": "integer", "example": 804972},
                "views": {"type": "integer", "example": 3},
                "width": {"type": "integer", "example": 518},
                "height": {"type": "integer", "example": 518},
                "device": {"type": "string", "example": "cuda"},
                "dtype": {"type": "string", "example": "bfloat16"},
                "cameras": {"type": "array", "items": {"$ref": "#/definitions/types.CameraPose"}},
                "tracks": {"type": "array", "items": {"$ref": "#/definitions/types.Track"}},
                "stage_ms": {"type": "object", "additionalProperties": {"type": "integer"}}
            }
        },
        "types.DeviceResponse": {
            "type": "object",
            "properties": {
                "accelerator": {"type": "boolean"},
                "name": {"type": "string"},
                "capability": {"type": "string", "example": "8.0"},
                "device": {"type": "string", "example": "cuda"},
                "dtype": {"type": "string", "example": "bfloat16"},
                "backend": {"type": "string", "example": "onnx"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "code": {"type": "integer", "example": 400}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "recon3d API",
	Description:      "HTTP API for multi-view 3D reconstruction into point clouds.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
