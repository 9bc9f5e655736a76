// Package containers starts throwaway Docker containers for integration
// tests using testcontainers-go:
//
//   - MySQL 8.0 for the SQL cache backend
//   - Eclipse Mosquitto for the MQTT event publisher
//
// Containers are typically managed from TestMain:
//
//	var mysqlContainer *containers.MySQLContainer
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    mysqlContainer, err = containers.NewMySQLContainer(context.Background(), nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    _ = mysqlContainer.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Tests using this package carry the "integration" build tag:
//
//	//go:build integration
//
//	go test -tags=integration ./...
package containers
