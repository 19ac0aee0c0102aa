package main

//go:generate swag init -g cmd/callsyncd/main.go -o docs

// @title           Recording Sync API
// @version         0.1.0
// @description     Recording sync controls, status and search index maintenance.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
