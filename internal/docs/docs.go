// Package docs registers the ingest/status API description with swaggo/swag.
// It is hand-maintained rather than `swag init`-generated, but follows the
// same shape swag emits so the annotations on internal/ingest's handlers
// (@Summary, @Router, ...) stay meaningful without a code-generation step
// in this environment.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "post": {
                "description": "Accepts one GSI snapshot, authenticates it by auth.token, and routes it to the matching MatchProcessor.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Ingest a GSI snapshot",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "malformed or invalid payload"},
                    "401": {"description": "unknown auth token"},
                    "413": {"description": "request body too large"},
                    "429": {"description": "rate limited"}
                }
            }
        },
        "/status": {
            "get": {
                "description": "Reports process liveness, active match count, and token cache state.",
                "produces": ["application/json"],
                "summary": "Report service liveness",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger metadata, in the shape swag's CLI
// normally generates into docs/docs.go.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "countertrak-ingest",
	Description:      "Game State Ingestion Pipeline for Counter-Strike 2's Game State Integration.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
