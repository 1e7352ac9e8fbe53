// Package docs holds the OpenAPI description served at /swagger.
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
        "/api/jobs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "List jobs",
                "parameters": [
                    {"type": "string", "description": "Filter by job kind", "name": "kind", "in": "query"},
                    {"type": "integer", "description": "Page number (1-based)", "name": "page", "in": "query"},
                    {"type": "integer", "description": "Page size (max 100)", "name": "perPage", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.JobListResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "Create generation job",
                "parameters": [
                    {"description": "Job request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.CreateJobRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/model.CreateJobResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "402": {"description": "Payment Required", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/jobs/{jobId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "Get job status",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "jobId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.JobStatusResponse"}},
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/model.JobStatusResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "Delete job",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "jobId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.DeleteJobResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/ledger/balance": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Ledger"],
                "summary": "Get coin balance",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.BalanceResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/ledger/transactions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Ledger"],
                "summary": "List coin transactions",
                "parameters": [
                    {"type": "integer", "description": "Page number (1-based)", "name": "page", "in": "query"},
                    {"type": "integer", "description": "Page size (max 100)", "name": "perPage", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.TransactionListResponse"}}
                }
            }
        },
        "/auth/verify": {
            "get": {
                "tags": ["Auth"],
                "summary": "Verify bearer token",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Unauthorized"}
                }
            }
        }
    },
    "definitions": {
        "model.CreateJobRequest": {
            "type": "object",
            "properties": {
                "ownerId": {"type": "string"},
                "kind": {"type": "string", "enum": ["text-to-video", "image-to-video", "image-to-video-template", "transcription"]},
                "prompt": {"type": "string"},
                "imageUrl": {"type": "string"},
                "audioUrl": {"type": "string"},
                "template": {"type": "string"},
                "resolution": {"type": "string", "enum": ["480P", "720P", "1080P"]},
                "language": {"type": "string"}
            }
        },
        "model.CreateJobResponse": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "status": {"type": "string"},
                "kind": {"type": "string"},
                "cost": {"type": "integer"}
            }
        },
        "model.JobError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "model.JobStatusResponse": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "kind": {"type": "string"},
                "status": {"type": "string", "enum": ["processing", "completed", "failed"]},
                "resultUrl": {"type": "string"},
                "error": {"$ref": "#/definitions/model.JobError"},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "model.JobListResponse": {
            "type": "object",
            "properties": {
                "jobs": {"type": "array", "items": {"$ref": "#/definitions/model.JobStatusResponse"}},
                "page": {"type": "integer"},
                "perPage": {"type": "integer"},
                "total": {"type": "integer"}
            }
        },
        "model.DeleteJobResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "jobId": {"type": "string"}
            }
        },
        "model.BalanceResponse": {
            "type": "object",
            "properties": {
                "ownerId": {"type": "string"},
                "coins": {"type": "integer"}
            }
        },
        "model.Transaction": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "ownerId": {"type": "string"},
                "amount": {"type": "integer"},
                "label": {"type": "string"},
                "resultingBalance": {"type": "integer"},
                "outcome": {"type": "string", "enum": ["success", "failed", "refunded"]},
                "createdAt": {"type": "string"}
            }
        },
        "model.TransactionListResponse": {
            "type": "object",
            "properties": {
                "transactions": {"type": "array", "items": {"$ref": "#/definitions/model.Transaction"}},
                "page": {"type": "integer"},
                "perPage": {"type": "integer"},
                "total": {"type": "integer"}
            }
        },
        "response.ErrorDetail": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {}
            }
        },
        "response.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"$ref": "#/definitions/response.ErrorDetail"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Enter your bearer token in the format **Bearer &lt;token&gt;**",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8000",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "MatrixAI API",
	Description:      "Backend for AI media generation: coin-charged video generation and transcription jobs.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
