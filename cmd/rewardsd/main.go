package main

import (
	"log"

	"poolrewards/services/rewardsd"
)

func main() {
	if err := rewardsd.Main(); err != nil {
		log.Fatal(err)
	}
}
