package main

import "dm-backend/internal/app"

func main() {
	app.Run()
}
